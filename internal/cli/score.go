package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/pipeline"
)

var (
	scoreLimit       int
	scoreRetryFailed bool
)

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score unscored snapshots into the ledger",
	Long: `Score sends snapshots without a ledger entry to the scoring oracle and
appends the results to the neutrality ledger. A snapshot the oracle fails on
is marked failed and skipped by later runs; --retry-failed makes those
snapshots eligible again.

Example:
  newsledger score --limit 50
  newsledger score --retry-failed`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().IntVar(&scoreLimit, "limit", 0, "snapshots to score (default scoring.batch_limit)")
	scoreCmd.Flags().BoolVar(&scoreRetryFailed, "retry-failed", false, "re-queue snapshots whose scoring failed before running")
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, _, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	if scoreRetryFailed {
		n, err := p.Store.RetryFailedScores(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "re-queued %d failed snapshots\n", n)
	}

	if p.Ledger == nil {
		return fmt.Errorf("%w (set oracle.provider)", pipeline.ErrNoOracle)
	}

	limit := scoreLimit
	if limit <= 0 {
		limit = p.Config.Scoring.BatchLimit
	}
	stats, err := p.Ledger.BuildBatch(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "scored %d of %d, failed %d\n", stats.Scored, stats.Attempted, stats.Failed)
	return printJSON(stats)
}
