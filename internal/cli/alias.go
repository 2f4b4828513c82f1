package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// aliasCmd represents the alias command
var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage outlet aliases",
	Long: `Aliases map an observed domain to a canonical outlet and always win over
automatic root-domain collapse. Stored aliases override the aliases map in
the config file.`,
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <alias> <canonical>",
	Short: "Add or replace an alias",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(ctx) }()

		if err := p.Store.SetAlias(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s -> %s\n", args[0], args[1])
		return nil
	},
}

var aliasRemoveCmd = &cobra.Command{
	Use:   "remove <alias>",
	Short: "Remove a stored alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(ctx) }()

		return p.Store.DeleteAlias(ctx, args[0])
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored aliases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(ctx) }()

		aliases, err := p.Store.ListAliases(ctx)
		if err != nil {
			return err
		}
		return printJSON(aliases)
	},
}

func init() {
	rootCmd.AddCommand(aliasCmd)
	aliasCmd.AddCommand(aliasAddCmd)
	aliasCmd.AddCommand(aliasRemoveCmd)
	aliasCmd.AddCommand(aliasListCmd)
}
