package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/trends"
)

var trendsWindow int

// trendsCmd represents the trends command
var trendsCmd = &cobra.Command{
	Use:   "trends <outlet>",
	Short: "Print daily bias averages for an outlet",
	Long: `Trends resolves the outlet (a canonical name, a domain or a URL) through
the alias table and root-domain collapse, then prints one point per UTC day
with ledger entries in the window, oldest first.

Example:
  newsledger trends npr.org
  newsledger trends https://www.bbc.co.uk/news --window 90`,
	Args: cobra.ExactArgs(1),
	RunE: runTrends,
}

func init() {
	rootCmd.AddCommand(trendsCmd)
	trendsCmd.Flags().IntVar(&trendsWindow, "window", trends.DefaultWindow, "window in days (1-120)")
}

func runTrends(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, _, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	canonical, points, err := p.Trends.TrendsFor(ctx, args[0], trendsWindow)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: %d days with stories in the last %d days\n", canonical, len(points), trends.ClampWindow(trendsWindow))
	return printJSON(points)
}
