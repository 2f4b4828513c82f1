package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/extract"
)

var extractTimeout time.Duration

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Run the extraction chain on one URL",
	Long: `Extract runs the configured extraction fallback chain against a single
URL and prints which stages were tried, which one succeeded and the text it
produced. Nothing is queued or stored; use it to debug an outlet's pages.

Example:
  newsledger extract https://www.npr.org/2025/01/01/some-story`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().DurationVar(&extractTimeout, "timeout", 2*time.Minute, "overall timeout")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
	defer cancel()

	p, _, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.Background()) }()

	res := p.Extractor.Extract(ctx, args[0], extract.Prefetched{})
	for _, a := range res.Attempts {
		status := "ok"
		if a.Error != "" {
			status = a.Error
		}
		fmt.Fprintf(os.Stderr, "  %-10s %8s  %s\n", a.Stage, a.Duration.Round(time.Millisecond), status)
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("extraction failed: %s", res.Error)
	}
	return nil
}
