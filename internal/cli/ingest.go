package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/ingest"
)

var (
	ingestLimit   int
	ingestBatches int
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract queued stories into snapshots",
	Long: `Ingest drains queued candidates, runs the extraction fallback chain
(structured API, headless render, direct fetch) and stores an immutable
snapshot for each success. Failures stay queued until they reach
ingest.max_attempts and are dead-lettered.

Example:
  newsledger ingest
  newsledger ingest --limit 20 --batches 5`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "candidates per batch (default ingest.batch_limit)")
	ingestCmd.Flags().IntVar(&ingestBatches, "batches", 1, "number of batches to run; stops early when the queue is empty")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, _, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	limit := ingestLimit
	if limit <= 0 {
		limit = p.Config.Ingest.BatchLimit
	}
	if limit <= 0 {
		limit = ingest.DefaultLimit
	}

	var runs []ingest.Stats
	for i := 0; i < max(ingestBatches, 1); i++ {
		stats, err := p.Ingest.RunBatch(ctx, limit)
		if err != nil {
			return err
		}
		runs = append(runs, stats)
		fmt.Fprintf(os.Stderr, "batch %d: ingested %d, failed %d, dead-lettered %d\n",
			i+1, stats.Ingested, stats.Failed, stats.DeadLettered)
		if len(stats.Items) < limit {
			break
		}
	}

	queue, err := p.Store.QueueStats(ctx)
	if err == nil {
		fmt.Fprintf(os.Stderr, "queue: %d pending, %d claimed, %d dead\n", queue.Pending, queue.Claimed, queue.Dead)
	}
	return printJSON(runs)
}
