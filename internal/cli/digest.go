package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/digest"
)

var (
	digestLimit int
	digestSort  string
)

// digestCmd represents the digest command
var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print the latest ledger digest",
	Long: `Digest prints the latest version of the most recent ledger stories,
ordered by capture time or by PI score.

Example:
  newsledger digest --limit 10 --sort neutrality`,
	RunE: runDigest,
}

func init() {
	rootCmd.AddCommand(digestCmd)
	digestCmd.Flags().IntVar(&digestLimit, "limit", digest.DefaultLimit, "stories to return (1-50)")
	digestCmd.Flags().StringVar(&digestSort, "sort", "recency", "ordering: recency or neutrality")
}

func runDigest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, _, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	entries, err := p.Digest.Digest(ctx, digestLimit, digestSort)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d stories (%s)\n", len(entries), digest.NormalizeSort(digestSort))
	return printJSON(entries)
}
