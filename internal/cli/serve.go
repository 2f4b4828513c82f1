package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ppiankov/newsledger/internal/api"
	"github.com/ppiankov/newsledger/internal/pipeline"
	"github.com/ppiankov/newsledger/internal/tasks"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the scheduled refresh",
	Long: `Serve exposes the pipeline triggers (/backfill, /ingest-worker,
/score-worker, /news/refresh) and the read endpoints (/news/digest,
/news/outlets/trends, /public/outlet-neutrality) over HTTP. When
refresh.schedule is set, the refresh cycle also runs on that cron schedule.

Example:
  newsledger serve --addr :8080
  NEWSLEDGER_REFRESH_SCHEDULE="*/30 * * * *" newsledger serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = v.BindPFlag("server"+keyDelimiter+"addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, logger, err := openPipeline(ctx)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              p.Config.Server.Addr,
		Handler:           api.NewServer(p, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler, err := scheduleRefresh(p, p.Config.Refresh.Schedule, logger)
	if err != nil {
		_ = p.Close(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "store", p.Store != nil, "scoring", p.Ledger != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.Config.Server.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		logger.Warn("http shutdown", "error", sErr)
	}
	if cErr := p.Close(shutdownCtx); cErr != nil {
		logger.Warn("pipeline close", "error", cErr)
	}
	return err
}

// scheduleRefresh starts a cron scheduler that triggers the refresh task.
// An empty spec disables scheduling and returns a nil scheduler.
func scheduleRefresh(p *pipeline.Pipeline, spec string, logger *slog.Logger) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	if p.Store == nil {
		logger.Warn("refresh schedule ignored, store not configured", "schedule", spec)
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		task, err := p.StartRefresh(context.Background())
		switch {
		case errors.Is(err, tasks.ErrAlreadyRunning):
			logger.Info("scheduled refresh skipped, previous refresh still running")
		case err != nil:
			logger.Error("scheduled refresh failed to start", "error", err)
		default:
			logger.Info("scheduled refresh started", "id", task.ID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh.schedule %q: %w", spec, err)
	}
	c.Start()
	logger.Info("refresh scheduled", "schedule", spec)
	return c, nil
}
