package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/discovery"
)

var backfillDays int

// backfillCmd represents the backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill [outlet...]",
	Short: "Queue candidate stories from RSS and search",
	Long: `Backfill discovers story URLs for the named outlets (or every registered
outlet) from their RSS feed and from web search, and queues them for ingest.
Re-running is safe: already queued URLs are counted as duplicates.

Example:
  newsledger backfill
  newsledger backfill npr.org bbc.com --days 7`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().IntVar(&backfillDays, "days", discovery.DefaultDays, "discovery window in days")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, _, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	days := backfillDays
	if days <= 0 {
		days = discovery.DefaultDays
	}
	results := p.Backfiller.Run(ctx, args, days)

	for _, r := range results {
		fmt.Fprintf(os.Stderr, "  %-20s rss %3d (+%d dup)  search %3d (+%d dup)",
			r.Outlet, r.RSSQueued, r.RSSDuplicates, r.SearchQueued, r.SearchDuplicates)
		if len(r.Errors) > 0 {
			fmt.Fprintf(os.Stderr, "  errors: %s", strings.Join(r.Errors, "; "))
		}
		fmt.Fprintln(os.Stderr)
	}
	return printJSON(map[string]any{"days": days, "outlets": results})
}
