package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/tasks"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one full refresh cycle",
	Long: `Refresh backfills every outlet over refresh.days, ingests one batch and
scores one batch. It takes the same lock as the HTTP trigger and the
scheduled refresh, so it fails fast while another refresh is running.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, _, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	task, err := p.StartRefresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "refresh %s started\n", task.ID)

	done, err := p.Wait(ctx, task.ID)
	if err != nil {
		return err
	}
	if err := printJSON(done); err != nil {
		return err
	}
	if done.Status == tasks.StatusFailed {
		return fmt.Errorf("refresh failed: %s", done.Error)
	}
	return nil
}
