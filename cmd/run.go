package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/citenet/internal/api"
	"github.com/JakeFAU/citenet/internal/citation"
	"github.com/JakeFAU/citenet/internal/config"
	"github.com/JakeFAU/citenet/internal/crawler"
	"github.com/JakeFAU/citenet/internal/features"
	"github.com/JakeFAU/citenet/internal/id/uuid"
	"github.com/JakeFAU/citenet/internal/logging"
	"github.com/JakeFAU/citenet/internal/openalex"
	"github.com/JakeFAU/citenet/internal/policy/ratelimit"
	"github.com/JakeFAU/citenet/internal/policy/retry"
	"github.com/JakeFAU/citenet/internal/publisher/pubsub"
	"github.com/JakeFAU/citenet/internal/scheduler"
	"github.com/JakeFAU/citenet/internal/seeds"
	"github.com/JakeFAU/citenet/internal/storage/featuretable"
	"github.com/JakeFAU/citenet/internal/storage/gcs"
	"github.com/JakeFAU/citenet/internal/storage/local"
	"github.com/JakeFAU/citenet/internal/storage/postgres"
	"github.com/JakeFAU/citenet/internal/worker"
)

// newRunCmd creates the 'run' subcommand, which processes one chunk.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawls every pending seed of a chunk",
		Long: `Loads the chunk's seeds, skips those already completed by earlier runs and
crawls the rest. The command exits non-zero when a fatal API or persistence
error stops the run; rerunning it resumes where it left off.`,
		Args: cobra.NoArgs,
		RunE: runChunk,
	}
	addChunkFlags(cmd.Flags())
	cmd.Flags().Int("max-depth", 2, "largest hop distance from the seed")
	cmd.Flags().Int("max-nodes", 1000, "node cap per seed subgraph, seed included")
	cmd.Flags().Int("n-concurrent", 32, "concurrent seeds and in-flight API requests")
	return cmd
}

func runChunk(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = base.Sync()
	}()

	ids := uuid.New()
	runID, err := ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.ForChunk(base, cfg.Chunk.ID, runID)

	driver, cleanup, err := buildDriver(ctx, cfg, runID, ids, logger)
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		return err
	}
	defer cleanup()

	serverDone := startStatusServer(ctx, cfg, driver, logger)
	summary, err := driver.Run(ctx)
	stop()
	<-serverDone
	if err != nil {
		return fmt.Errorf("run chunk %s: %w", cfg.ChunkName(), err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d seeds, %d completed, %d skipped, %d failed\n",
		cfg.ChunkName(), summary.Total, summary.Completed, summary.Skipped, summary.Failed)
	return nil
}

func buildDriver(
	ctx context.Context,
	cfg config.Config,
	runID string,
	ids citation.IDGenerator,
	logger *zap.Logger,
) (*worker.Driver, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*worker.Driver, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	weighting, err := features.ParseWeighting(cfg.Features.Weighting, cfg.Features.Decay)
	if err != nil {
		return fail(fmt.Errorf("features: %w", err))
	}

	gate, err := scheduler.NewLimiter(cfg.Crawl.NConcurrent)
	if err != nil {
		return fail(fmt.Errorf("init request gate: %w", err))
	}
	client, err := openalex.New(
		openalex.Config{
			BaseURL:    cfg.API.BaseURL,
			APIKey:     cfg.API.Key,
			Mailto:     cfg.API.Mailto,
			UserAgent:  cfg.API.UserAgent,
			Timeout:    cfg.API.Timeout(),
			PerPage:    cfg.API.PerPage,
			MaxPages:   cfg.API.MaxPages,
			References: cfg.API.HasDirection(config.DirectionReferences),
			Citations:  cfg.API.HasDirection(config.DirectionCitations),
		},
		openalex.WithRateLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})),
		openalex.WithRequestGate(gate),
		openalex.WithRetryConfig(retry.Config{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BackoffInitial(),
			MaxDelay:   cfg.Retry.BackoffMax(),
		}),
		openalex.WithLogger(logger.Named("openalex")),
	)
	if err != nil {
		return fail(fmt.Errorf("init api client: %w", err))
	}

	bfs, err := crawler.New(client, crawler.Config{
		MaxDepth:    cfg.Crawl.MaxDepth,
		MaxNodes:    cfg.Crawl.MaxNodes,
		Concurrency: cfg.Crawl.NConcurrent,
	}, logger.Named("crawler"))
	if err != nil {
		return fail(fmt.Errorf("init crawler: %w", err))
	}
	pool, err := scheduler.NewPool(cfg.Crawl.NConcurrent, logger.Named("scheduler"))
	if err != nil {
		return fail(fmt.Errorf("init pool: %w", err))
	}

	networks, err := local.New(local.Config{BaseDir: cfg.NetworkDir()}, ids)
	if err != nil {
		return fail(fmt.Errorf("init network store: %w", err))
	}
	table, err := featuretable.Open(cfg.FeatureTablePath())
	if err != nil {
		return fail(fmt.Errorf("open feature table: %w", err))
	}
	closers = append(closers, func() {
		if err := table.Close(); err != nil {
			logger.Warn("Failed to close feature table", zap.Error(err))
		}
	})

	var mirror citation.FeatureMirror
	if cfg.Postgres.DSN != "" {
		store, err := postgres.NewFeatureStore(ctx, postgres.FeatureStoreConfig{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("init feature mirror: %w", err))
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("init feature mirror: %w", err))
		}
		mirror = store
	}

	var archive citation.BlobStore
	if cfg.Archive.GCSBucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			return fail(fmt.Errorf("init gcs client: %w", err))
		}
		closers = append(closers, func() { _ = gcsClient.Close() })
		blobs, err := gcs.New(gcsClient, gcs.Config{Bucket: cfg.Archive.GCSBucket, Prefix: cfg.Archive.Prefix})
		if err != nil {
			return fail(fmt.Errorf("init archive: %w", err))
		}
		archive = blobs
	}

	var publisher citation.Publisher
	if cfg.Notify.ProjectID != "" {
		psClient, pub, err := pubsub.Dial(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicName)
		if err != nil {
			return fail(fmt.Errorf("init notifier: %w", err))
		}
		closers = append(closers, func() {
			pub.Stop()
			_ = psClient.Close()
		})
		publisher = pub
	}

	driver := worker.New(
		worker.Config{
			ChunkID:     cfg.Chunk.ID,
			RunID:       runID,
			Weighting:   weighting,
			NotifyTopic: cfg.Notify.TopicName,
		},
		seeds.NewCSVSource(cfg.Chunk.InputDir, logger.Named("seeds")),
		bfs,
		networks,
		table,
		pool,
		mirror,
		archive,
		publisher,
		logger.Named("worker"),
	)
	return driver, cleanup, nil
}

// startStatusServer runs the status server until ctx is canceled. The returned
// channel closes once the server has stopped.
func startStatusServer(ctx context.Context, cfg config.Config, driver *worker.Driver, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if cfg.Metrics.Addr == "" {
		close(done)
		return done
	}
	server := api.NewServer(driver, logger.Named("api"))
	go func() {
		defer close(done)
		if err := server.ListenAndServe(ctx, cfg.Metrics.Addr); err != nil {
			logger.Warn("Status server stopped", zap.Error(err))
		}
	}()
	return done
}
