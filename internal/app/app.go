// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/actions-digest/internal/clock"
	"github.com/JakeFAU/actions-digest/internal/config"
	"github.com/JakeFAU/actions-digest/internal/crawler"
	"github.com/JakeFAU/actions-digest/internal/enrich"
	autofetcher "github.com/JakeFAU/actions-digest/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/actions-digest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/actions-digest/internal/fetcher/headless"
	"github.com/JakeFAU/actions-digest/internal/fetcher/retry"
	"github.com/JakeFAU/actions-digest/internal/hash/sha256"
	"github.com/JakeFAU/actions-digest/internal/id/uuid"
	"github.com/JakeFAU/actions-digest/internal/ingest"
	"github.com/JakeFAU/actions-digest/internal/logging"
	"github.com/JakeFAU/actions-digest/internal/parser"
	"github.com/JakeFAU/actions-digest/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/actions-digest/internal/publisher/pubsub"
	"github.com/JakeFAU/actions-digest/internal/slug"
	"github.com/JakeFAU/actions-digest/internal/storage/gcs"
	"github.com/JakeFAU/actions-digest/internal/storage/local"
	"github.com/JakeFAU/actions-digest/internal/storage/memory"
	"github.com/JakeFAU/actions-digest/internal/storage/postgres"
	"github.com/JakeFAU/actions-digest/internal/storage/sqlite"
)

// ErrMigrateUnsupported is returned by Migrate for stores without a schema.
var ErrMigrateUnsupported = errors.New("store driver has no schema to migrate")

type pinger interface {
	Ping(ctx context.Context) error
}

type migrator interface {
	Migrate(ctx context.Context) error
}

type namedCloser struct {
	name string
	c    io.Closer
}

// App holds all the shared, long-lived services for the application.
// It is built once per command invocation and closed by the root command.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     crawler.Store
	Archive   crawler.BlobStore
	Publisher crawler.Publisher
	Fetcher   crawler.Fetcher
	Enricher  crawler.Enricher
	Parser    *parser.Parser

	archivePrefix string
	closers       []namedCloser
}

type options struct {
	logger        *zap.Logger
	gcsOptions    []option.ClientOption
	pubsubOptions []option.ClientOption
}

// Option customizes New.
type Option func(*options)

// WithLogger uses l instead of building a logger from config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStorageOptions passes client options to the GCS archive.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOptions = append(o.gcsOptions, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub publisher.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOptions = append(o.pubsubOptions, opts...) }
}

// New creates and initializes an App from cfg. It fails fast if any critical
// service cannot be initialized, releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	a := &App{Config: cfg, Logger: logger, Parser: parser.New(cfg.Selectors)}
	logger.Info("initializing application services",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("fetcher", cfg.Fetcher.Mode),
	)

	steps := []func(context.Context, *options) error{
		a.initStore,
		a.initArchive,
		a.initPublisher,
		a.initFetcher,
		a.initEnricher,
	}
	for _, step := range steps {
		if err := step(ctx, &o); err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initStore(ctx context.Context, _ *options) error {
	cfg := a.Config.Store
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DSN,
			MaxConns: int32(max(cfg.MaxOpenConns, 0)), //nolint:gosec // pool sizes are small
			MinConns: int32(max(cfg.MaxIdleConns, 0)), //nolint:gosec // pool sizes are small
		})
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		a.Store = store
	case "sqlite":
		store, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		a.Store = store
	case "memory":
		a.Logger.Warn("using in-memory store; documents are lost on exit")
		a.Store = memory.NewDocumentStore()
	default:
		return fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
	a.closers = append(a.closers, namedCloser{name: "store", c: a.Store})
	return nil
}

func (a *App) initArchive(ctx context.Context, o *options) error {
	cfg := a.Config.Archive
	switch cfg.Provider {
	case "none", "":
		return nil
	case "memory":
		a.Archive = memory.NewBlobStore()
		a.archivePrefix = cfg.Prefix
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		a.Archive = store
		a.archivePrefix = cfg.Prefix
	case "gcs":
		// The bucket store applies the prefix itself.
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix}, o.gcsOptions...)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		a.Archive = store
		a.closers = append(a.closers, namedCloser{name: "archive", c: store})
	default:
		return fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, o *options) error {
	cfg := a.Config.PubSub
	if cfg.ProjectID == "" {
		return nil
	}
	pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{ProjectID: cfg.ProjectID, Topic: cfg.Topic}, o.pubsubOptions...)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.Publisher = pub
	a.closers = append(a.closers, namedCloser{name: "publisher", c: pub})
	return nil
}

func (a *App) initFetcher(_ context.Context, _ *options) error {
	cfg := a.Config
	logger := a.Logger.Named("fetcher")
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.Timeout,
	}, logger)

	var fetcher crawler.Fetcher
	switch cfg.Fetcher.Mode {
	case "colly", "":
		fetcher = probe
	case "headless", "auto":
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Fetcher.HeadlessParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Fetcher.NavTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "fetcher", c: headless})
		fetcher = headless
		if cfg.Fetcher.Mode == "auto" {
			detector := autofetcher.NewDetector(cfg.Selectors.Article, cfg.Selectors.Body)
			fetcher, err = autofetcher.New(probe, headless, detector, logger)
			if err != nil {
				return fmt.Errorf("init auto fetcher: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown fetcher mode: %s", cfg.Fetcher.Mode)
	}

	if cfg.Fetcher.RetryAttempts > 1 {
		policy := retry.DefaultPolicy()
		policy.MaxAttempts = cfg.Fetcher.RetryAttempts
		fetcher = retry.New(fetcher, policy, clock.New(), logger)
	}
	a.Fetcher = fetcher
	return nil
}

func (a *App) initEnricher(_ context.Context, _ *options) error {
	cfg := a.Config.Enrichment
	if cfg.APIKey == "" {
		a.Logger.Warn("enrichment.api_key is empty; provider calls may be rejected")
	}
	opts := []enrich.Option{enrich.WithLogger(a.Logger.Named("enrich"))}
	if cfg.RequestsPerMinute > 0 {
		opts = append(opts, enrich.WithWaiter(ratelimit.PerMinute(cfg.RequestsPerMinute)))
	}
	client, err := enrich.New(enrich.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}, opts...)
	if err != nil {
		return fmt.Errorf("init enricher: %w", err)
	}
	a.Enricher = client
	return nil
}

// Orchestrator assembles an ingest run over the App's services.
func (a *App) Orchestrator() (*ingest.Orchestrator, error) {
	sys := clock.New()
	deps := ingest.Dependencies{
		Store:     a.Store,
		Fetcher:   a.Fetcher,
		Parser:    a.Parser,
		Enricher:  a.Enricher,
		Clock:     sys,
		Sleeper:   sys,
		IDs:       uuid.NewGenerator(),
		Archive:   a.Archive,
		Publisher: a.Publisher,
	}
	if a.Archive != nil {
		deps.Hasher = sha256.New()
	}
	orch, err := ingest.New(deps, ingest.Config{
		ListingDelay:  a.Config.Crawler.ListingDelay,
		DocumentDelay: a.Config.Crawler.DocumentDelay,
		DrainBacklog:  a.Config.Crawler.DrainBacklog,
		ArchivePrefix: a.archivePrefix,
		Topic:         a.Config.PubSub.Topic,
	}, a.Logger.Named("ingest"))
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return orch, nil
}

// SlugAssigner returns an Assigner over the App's store.
func (a *App) SlugAssigner() (*slug.Assigner, error) {
	assigner, err := slug.NewAssigner(a.Store, a.Logger.Named("slug"))
	if err != nil {
		return nil, fmt.Errorf("build slug assigner: %w", err)
	}
	return assigner, nil
}

// Ping checks store connectivity. Stores without a connection always succeed.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ping store: %w", err)
		}
	}
	return nil
}

// Migrate applies the store schema.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.Store.(migrator)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMigrateUnsupported, a.Config.Store.Driver)
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// Close gracefully shuts down all services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.Logger.Warn("close failed", zap.String("service", nc.name), zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on terminals; the error carries no information worth logging.
	_ = a.Logger.Sync()
}
