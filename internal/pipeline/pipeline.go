// Package pipeline wires the discovery, ingest and ledger components from
// configuration and runs the refresh cycle
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/newsledger/internal/archive"
	"github.com/ppiankov/newsledger/internal/cache"
	"github.com/ppiankov/newsledger/internal/digest"
	"github.com/ppiankov/newsledger/internal/discovery"
	"github.com/ppiankov/newsledger/internal/events"
	"github.com/ppiankov/newsledger/internal/extract"
	"github.com/ppiankov/newsledger/internal/ingest"
	"github.com/ppiankov/newsledger/internal/ledger"
	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/oracle"
	"github.com/ppiankov/newsledger/internal/store"
	"github.com/ppiankov/newsledger/internal/tasks"
	"github.com/ppiankov/newsledger/internal/trends"
	"github.com/ppiankov/newsledger/internal/util"
	"github.com/ppiankov/newsledger/internal/worker"
)

// RefreshTask is the supervised task name of the refresh cycle
const RefreshTask = "refresh"

// ErrNoStore is returned by operations that need the store when none is configured
var ErrNoStore = errors.New("store not configured")

// ErrNoOracle is returned by scoring when no oracle provider is configured
var ErrNoOracle = errors.New("scoring oracle not configured")

// Pipeline holds every wired component. Store-backed components are nil
// when no store is configured; Ledger is also nil without an oracle.
type Pipeline struct {
	Config *model.Config
	Logger *slog.Logger

	Store      *store.Store
	Cache      cache.Cache
	Extractor  *extract.Engine
	Backfiller *discovery.Backfiller
	Ingest     *ingest.Worker
	Ledger     *ledger.Builder
	Digest     *digest.Assembler
	Trends     *trends.Aggregator
	Tasks      *tasks.Supervisor

	closers []func() error
}

// New builds a pipeline from cfg. Optional collaborators that are missing
// or fail to connect are skipped with a log line; only a configured store
// that cannot be opened is fatal.
func New(ctx context.Context, cfg *model.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Pipeline{Config: cfg, Logger: logger}

	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		client, err := cache.OpenRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache and locks", "error", err)
		} else {
			redisClient = client
			p.closers = append(p.closers, client.Close)
		}
	}

	var remote cache.Cache
	if redisClient != nil {
		remote = cache.NewRedisCache(redisClient)
	}
	p.Cache = cache.NewLayeredCache(cfg.Cache.TTL, remote)

	supervisorOpts := []tasks.Option{tasks.WithLogger(logger.With("component", "tasks"))}
	if redisClient != nil {
		supervisorOpts = append(supervisorOpts, tasks.WithLocker(tasks.NewRedisLocker(redisClient, "")))
	}
	p.Tasks = tasks.NewSupervisor(supervisorOpts...)

	p.Extractor = p.buildExtractor(cfg, logger)

	if cfg.Store.DSN == "" {
		logger.Warn("store not configured, pipeline endpoints are disabled")
		return p, nil
	}

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		_ = p.Close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	p.Store = st
	p.closers = append(p.closers, st.Close)

	httpClient := &http.Client{
		Timeout: cfg.HTTP.Timeout,
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		},
	}

	var searcher discovery.Searcher
	if sc := discovery.NewSearchClient(cfg.Search.BaseURL, secret(cfg.Search.APIKey, "TAVILY_API_KEY"), httpClient, p.Cache, cfg.Search.CacheTTL); sc != nil {
		searcher = sc
	} else {
		logger.Info("search discovery disabled (no search.api_key)")
	}
	p.Backfiller = discovery.NewBackfiller(cfg.Outlets, discovery.NewFeedReader(httpClient, cfg.HTTP.UserAgent), searcher, st, logger)

	p.Ingest = ingest.NewWorker(st, st, p.Extractor, p.buildLimiter(cfg), p.buildArchiver(ctx, cfg, logger), ingest.Options{
		Workers:     cfg.Ingest.Workers,
		ItemTimeout: cfg.Ingest.ItemTimeout,
		ClaimTTL:    cfg.Ingest.ClaimTTL,
		MaxAttempts: cfg.Ingest.MaxAttempts,
	}, logger)

	provider, err := oracle.NewProvider(oracle.ConfigFromModel(cfg.Oracle, cfg.HTTP))
	switch {
	case err != nil:
		logger.Warn("scoring oracle unavailable", "provider", cfg.Oracle.Provider, "error", err)
	case provider == nil:
		logger.Info("scoring disabled (no oracle.provider)")
	default:
		scorer := oracle.NewScorer(provider, cfg.Oracle.MaxInputChars, cfg.Oracle.MaxTokens)
		p.Ledger = ledger.NewBuilder(st, scorer, p.buildPublisher(cfg, logger), cfg.Aliases, 2, logger)
	}

	p.Digest = digest.NewAssembler(st, p.Cache, cfg.Server.ReadCacheTTL)
	p.Trends = trends.NewAggregator(st, cfg.Aliases)

	return p, nil
}

func (p *Pipeline) buildExtractor(cfg *model.Config, logger *slog.Logger) *extract.Engine {
	stageClient := &http.Client{
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		},
	}

	var stages []extract.Stage
	if s := extract.NewStructuredStage(cfg.Extraction.Structured.BaseURL, secret(cfg.Extraction.Structured.APIKey, "TAVILY_API_KEY"), stageClient); s != nil {
		stages = append(stages, s)
	} else {
		logger.Info("structured extraction disabled (no extraction.structured.api_key)")
	}

	if r := p.buildRenderer(cfg, stageClient, logger); r != nil {
		stages = append(stages, extract.NewRenderStage(r))
	}

	var robots extract.RobotsPolicy
	if cfg.HTTP.RespectRobots {
		robots = util.NewRobotsChecker(cfg.HTTP.UserAgent, cfg.HTTP.Timeout, nil)
	}
	fetcher := extract.NewFetcher(extract.FetcherConfig{
		Timeout:    cfg.Extraction.StageTimeout,
		UserAgent:  cfg.HTTP.UserAgent,
		MaxBytes:   cfg.HTTP.MaxBodyBytes,
		HTTPProxy:  cfg.HTTP.HTTPProxy,
		HTTPSProxy: cfg.HTTP.HTTPSProxy,
		NoProxy:    cfg.HTTP.NoProxy,
	})
	stages = append(stages, extract.NewDirectStage(fetcher, robots))

	engine := extract.NewEngine(stages,
		extract.WithStageTimeout(cfg.Extraction.StageTimeout),
		extract.WithMaxChars(cfg.Extraction.MaxChars),
		extract.WithLogger(logger))
	logger.Info("extraction chain", "stages", engine.Stages())
	return engine
}

func (p *Pipeline) buildRenderer(cfg *model.Config, httpClient *http.Client, logger *slog.Logger) extract.Renderer {
	rc := cfg.Extraction.Render
	switch rc.Driver {
	case "browserless":
		token := secret(rc.Token, "BROWSERLESS_TOKEN")
		return extract.NewBrowserlessRenderer(rc.BrowserlessURL, token, cfg.HTTP.UserAgent, httpClient)
	case "playwright":
		r := extract.NewPlaywrightRenderer(rc.ExecutablePath)
		p.closers = append(p.closers, r.Close)
		return r
	case "":
		logger.Info("render extraction disabled (no extraction.render.driver)")
		return nil
	default:
		logger.Warn("unknown render driver, render stage disabled", "driver", rc.Driver)
		return nil
	}
}

func (p *Pipeline) buildLimiter(cfg *model.Config) ingest.RateLimiter {
	limiter := worker.NewLimiter(cfg.Ingest.RequestsPerSecond, cfg.Ingest.BurstSize)
	if !cfg.HTTP.RespectRobots {
		return limiter
	}
	return &politeLimiter{
		limiter: limiter,
		robots:  util.NewRobotsChecker(cfg.HTTP.UserAgent, cfg.HTTP.Timeout, nil),
	}
}

func (p *Pipeline) buildArchiver(ctx context.Context, cfg *model.Config, logger *slog.Logger) archive.Archiver {
	if cfg.Archive.Bucket == "" {
		logger.Info("snapshot archive disabled (no archive.bucket)")
		return archive.Nop{}
	}
	a, err := archive.NewS3(ctx, cfg.Archive)
	if err != nil {
		logger.Warn("snapshot archive unavailable", "bucket", cfg.Archive.Bucket, "error", err)
		return archive.Nop{}
	}
	return a
}

func (p *Pipeline) buildPublisher(cfg *model.Config, logger *slog.Logger) events.Publisher {
	if len(cfg.Events.Brokers) == 0 {
		logger.Info("ledger events disabled (no events.brokers)")
		return events.Nop{}
	}
	pub, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
	if err != nil {
		logger.Warn("ledger events unavailable", "brokers", cfg.Events.Brokers, "error", err)
		return events.Nop{}
	}
	p.closers = append(p.closers, pub.Close)
	return pub
}

// politeLimiter adds the robots.txt crawl-delay of a host to its rate limit
type politeLimiter struct {
	limiter *worker.Limiter
	robots  *util.RobotsChecker
}

func (l *politeLimiter) Wait(ctx context.Context, rawURL string) error {
	return l.limiter.WaitWithDelay(ctx, rawURL, l.robots.CrawlDelay(ctx, rawURL))
}

// RefreshResult reports one refresh cycle
type RefreshResult struct {
	Backfill []discovery.OutletResult `json:"backfill"`
	Ingest   ingest.Stats             `json:"ingest"`
	Ledger   *ledger.Stats            `json:"ledger,omitempty"`
}

// Refresh runs the fetch phase (backfill then one ingest batch) and then the
// ledger-build phase. A ledger failure is returned with the fetch results.
func (p *Pipeline) Refresh(ctx context.Context) (*RefreshResult, error) {
	if p.Store == nil {
		return nil, ErrNoStore
	}
	cfg := p.Config

	days := cfg.Refresh.Days
	if days <= 0 {
		days = 1
	}

	res := &RefreshResult{}
	res.Backfill = p.Backfiller.Run(ctx, cfg.Refresh.Outlets, days)

	ingestStats, err := p.Ingest.RunBatch(ctx, cfg.Ingest.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("fetch phase: %w", err)
	}
	res.Ingest = ingestStats

	if p.Ledger == nil {
		p.Logger.Info("refresh skipped ledger build", "reason", ErrNoOracle)
		return res, nil
	}
	ledgerStats, err := p.Ledger.BuildBatch(ctx, cfg.Scoring.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("ledger phase: %w", err)
	}
	res.Ledger = &ledgerStats
	return res, nil
}

// StartRefresh runs Refresh as a supervised background task. It returns
// tasks.ErrAlreadyRunning while another refresh holds the lock.
func (p *Pipeline) StartRefresh(ctx context.Context) (tasks.Task, error) {
	if p.Store == nil {
		return tasks.Task{}, ErrNoStore
	}
	return p.Tasks.Start(ctx, RefreshTask, func(ctx context.Context) (any, error) {
		return p.Refresh(ctx)
	})
}

// Close stops background tasks and releases every opened resource
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.Tasks != nil {
		if err := p.Tasks.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// secret returns value, or the environment variable env when value is empty
func secret(value, env string) string {
	if value != "" {
		return value
	}
	return os.Getenv(env)
}

// Wait blocks until the refresh task id finishes, for CLI runs that trigger
// through the supervisor
func (p *Pipeline) Wait(ctx context.Context, id string) (tasks.Task, error) {
	return p.Tasks.Wait(ctx, id)
}
