// Package worker drives one chunk run: it resumes from durable state, fans
// seeds out to the crawler and persists each finished subgraph.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/citenet/internal/citation"
	"github.com/JakeFAU/citenet/internal/features"
	"github.com/JakeFAU/citenet/internal/metrics"
	"github.com/JakeFAU/citenet/internal/scheduler"
)

// unavailableWarnShare is the share of unavailable seeds at which a finished
// chunk logs a warning.
const unavailableWarnShare = 0.5

// ErrPersistence marks failures to write durable output. It wraps
// citation.ErrFatal, so such failures abort the run.
var ErrPersistence = fmt.Errorf("persistence failure: %w", citation.ErrFatal)

// SeedCrawler expands a seed into a subgraph.
type SeedCrawler interface {
	Crawl(ctx context.Context, seed citation.Seed) (*citation.Subgraph, error)
}

// NetworkStore holds raw subgraph files, the authoritative completion record.
type NetworkStore interface {
	Exists(doi string) (bool, error)
	Put(ctx context.Context, sg *citation.Subgraph) (string, error)
	Get(doi string) (*citation.Subgraph, error)
	Path(doi string) string
	CleanTemp() (int, error)
}

// FeatureTable is the chunk's append-only result table.
type FeatureTable interface {
	Has(doi string) bool
	Append(row citation.FeatureRow) (bool, error)
}

// TaskRunner executes seed tasks with bounded concurrency.
type TaskRunner interface {
	Run(ctx context.Context, tasks []scheduler.Task) error
}

// Config controls Driver behavior.
type Config struct {
	ChunkID     int
	RunID       string
	Weighting   features.Weighting
	NotifyTopic string
}

// Summary reports run progress. Counts cover the current process only,
// except Skipped which counts seeds completed by earlier runs.
type Summary struct {
	ChunkID          int       `json:"chunk_id"`
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	Total            int64     `json:"total"`
	Skipped          int64     `json:"skipped"`
	Reconciled       int64     `json:"reconciled"`
	Completed        int64     `json:"completed"`
	Truncated        int64     `json:"truncated"`
	NotFound         int64     `json:"not_found"`
	Unavailable      int64     `json:"unavailable"`
	Failed           int64     `json:"failed"`
	TempFilesRemoved int64     `json:"temp_files_removed"`
}

// Remaining reports seeds neither skipped, completed nor failed.
func (s Summary) Remaining() int64 {
	return s.Total - s.Skipped - s.Completed - s.Failed
}

// ChunkCompleted is published once every seed of a chunk is done.
type ChunkCompleted struct {
	Event string `json:"event"`
	Summary
}

// Attributes implements the pubsub attribute hook.
func (c ChunkCompleted) Attributes() map[string]string {
	return map[string]string{
		"event":    c.Event,
		"chunk_id": strconv.Itoa(c.ChunkID),
		"run_id":   c.RunID,
	}
}

// Driver runs one chunk to completion.
type Driver struct {
	cfg       Config
	seeds     citation.SeedSource
	crawler   SeedCrawler
	networks  NetworkStore
	table     FeatureTable
	runner    TaskRunner
	mirror    citation.FeatureMirror
	archive   citation.BlobStore
	publisher citation.Publisher
	logger    *zap.Logger

	startedAt        atomic.Pointer[time.Time]
	total            atomic.Int64
	skipped          atomic.Int64
	reconciled       atomic.Int64
	completed        atomic.Int64
	truncated        atomic.Int64
	notFound         atomic.Int64
	unavailable      atomic.Int64
	failed           atomic.Int64
	tempFilesRemoved atomic.Int64
}

// New constructs a Driver. mirror, archive and publisher are optional.
func New(
	cfg Config,
	seeds citation.SeedSource,
	crawler SeedCrawler,
	networks NetworkStore,
	table FeatureTable,
	runner TaskRunner,
	mirror citation.FeatureMirror,
	archive citation.BlobStore,
	publisher citation.Publisher,
	logger *zap.Logger,
) *Driver {
	if cfg.Weighting == nil {
		cfg.Weighting = features.Inverse{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:       cfg,
		seeds:     seeds,
		crawler:   crawler,
		networks:  networks,
		table:     table,
		runner:    runner,
		mirror:    mirror,
		archive:   archive,
		publisher: publisher,
		logger:    logger,
	}
}

// Progress returns a snapshot of the run counters.
func (d *Driver) Progress() Summary {
	s := Summary{
		ChunkID:          d.cfg.ChunkID,
		RunID:            d.cfg.RunID,
		Total:            d.total.Load(),
		Skipped:          d.skipped.Load(),
		Reconciled:       d.reconciled.Load(),
		Completed:        d.completed.Load(),
		Truncated:        d.truncated.Load(),
		NotFound:         d.notFound.Load(),
		Unavailable:      d.unavailable.Load(),
		Failed:           d.failed.Load(),
		TempFilesRemoved: d.tempFilesRemoved.Load(),
	}
	if started := d.startedAt.Load(); started != nil {
		s.StartedAt = *started
	}
	return s
}

// Run processes every pending seed of the chunk. It returns an error when a
// fatal API failure, a persistence failure or cancellation stopped the run.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	now := time.Now().UTC()
	d.startedAt.Store(&now)

	seeds, err := d.seeds.Seeds(ctx, d.cfg.ChunkID)
	if err != nil {
		return d.Progress(), fmt.Errorf("load seeds: %w", err)
	}
	d.total.Store(int64(len(seeds)))

	removed, err := d.networks.CleanTemp()
	if err != nil {
		return d.Progress(), fmt.Errorf("%w: clean temp files: %w", ErrPersistence, err)
	}
	d.tempFilesRemoved.Store(int64(removed))
	if removed > 0 {
		d.logger.Info("Removed interrupted writes", zap.Int("count", removed))
	}

	pending, err := d.reconcile(ctx, seeds)
	if err != nil {
		return d.Progress(), err
	}
	d.logger.Info("Starting chunk",
		zap.Int("seeds", len(seeds)),
		zap.Int("pending", len(pending)),
		zap.Int64("skipped", d.skipped.Load()),
		zap.Int64("reconciled", d.reconciled.Load()),
	)

	tasks := make([]scheduler.Task, 0, len(pending))
	for _, seed := range pending {
		tasks = append(tasks, func(ctx context.Context) error {
			return d.processSeed(ctx, seed)
		})
	}
	if err := d.runner.Run(ctx, tasks); err != nil {
		summary := d.Progress()
		d.logger.Error("Chunk aborted",
			zap.Int64("completed", summary.Completed),
			zap.Int64("remaining", summary.Remaining()),
			zap.Error(err),
		)
		return summary, err
	}

	summary := d.Progress()
	d.logger.Info("Chunk complete",
		zap.Int64("total", summary.Total),
		zap.Int64("completed", summary.Completed),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("truncated", summary.Truncated),
		zap.Int64("not_found", summary.NotFound),
		zap.Int64("failed", summary.Failed),
	)
	if summary.Total > 0 && float64(summary.Unavailable) >= unavailableWarnShare*float64(summary.Total) {
		d.logger.Warn("Half or more of the chunk's seeds were unavailable",
			zap.Int64("unavailable", summary.Unavailable),
			zap.Int64("total", summary.Total),
		)
	}
	d.notify(ctx, summary)
	return summary, nil
}

// reconcile skips seeds whose raw file exists and restores any feature row
// lost between the rename and the append. It returns the seeds left to crawl.
func (d *Driver) reconcile(ctx context.Context, seeds []citation.Seed) ([]citation.Seed, error) {
	pending := make([]citation.Seed, 0, len(seeds))
	for _, seed := range seeds {
		done, err := d.networks.Exists(seed.DOI)
		if err != nil {
			return nil, fmt.Errorf("%w: check %s: %w", ErrPersistence, seed.DOI, err)
		}
		if !done {
			pending = append(pending, seed)
			continue
		}
		d.skipped.Add(1)
		if d.table.Has(seed.DOI) {
			continue
		}
		sg, err := d.networks.Get(seed.DOI)
		if err != nil {
			return nil, fmt.Errorf("%w: reload %s: %w", ErrPersistence, seed.DOI, err)
		}
		row := features.Compute(sg, d.cfg.Weighting)
		if _, err := d.table.Append(row); err != nil {
			return nil, fmt.Errorf("%w: append %s: %w", ErrPersistence, seed.DOI, err)
		}
		d.mirrorRow(ctx, row)
		d.reconciled.Add(1)
		d.logger.Info("Restored missing feature row", zap.String("seed", seed.DOI))
	}
	return pending, nil
}

func (d *Driver) processSeed(ctx context.Context, seed citation.Seed) error {
	logger := d.logger.With(zap.String("seed", seed.DOI))
	start := time.Now()

	sg, err := d.crawler.Crawl(ctx, seed)
	if err != nil {
		if errors.Is(err, citation.ErrFatal) {
			return fmt.Errorf("crawl %s: %w", seed.DOI, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("crawl %s abandoned: %w", seed.DOI, ctxErr)
		}
		d.failed.Add(1)
		metrics.ObserveSeed("failed")
		logger.Error("Seed failed", zap.Error(err))
		return nil
	}

	row := features.Compute(sg, d.cfg.Weighting)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persist %s abandoned: %w", seed.DOI, err)
	}
	uri, err := d.networks.Put(ctx, sg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("persist %s abandoned: %w", seed.DOI, ctxErr)
		}
		return fmt.Errorf("%w: write network %s: %w", ErrPersistence, seed.DOI, err)
	}
	if _, err := d.table.Append(row); err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrPersistence, seed.DOI, err)
	}

	d.completed.Add(1)
	switch sg.Status {
	case citation.StatusTruncated:
		d.truncated.Add(1)
	case citation.StatusNotFound:
		d.notFound.Add(1)
	case citation.StatusUnavailable:
		d.unavailable.Add(1)
	}
	metrics.ObserveSeed(string(sg.Status))

	d.mirrorRow(ctx, row)
	d.archiveNetwork(ctx, seed.DOI)

	logger.Info("Seed complete",
		zap.String("status", string(sg.Status)),
		zap.Int("nodes", row.NNodes),
		zap.Int("edges", row.NEdges),
		zap.Int("stubs", row.NStubs),
		zap.String("uri", uri),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (d *Driver) mirrorRow(ctx context.Context, row citation.FeatureRow) {
	if d.mirror == nil {
		return
	}
	if err := d.mirror.StoreFeatures(ctx, d.cfg.ChunkID, row); err != nil {
		d.logger.Warn("Feature mirror write failed", zap.String("seed", row.DOI), zap.Error(err))
	}
}

func (d *Driver) archiveNetwork(ctx context.Context, doi string) {
	if d.archive == nil {
		return
	}
	path := d.networks.Path(doi)
	// #nosec G304 -- path is produced by the network store.
	f, err := os.Open(path)
	if err != nil {
		d.logger.Warn("Archive open failed", zap.String("seed", doi), zap.Error(err))
		return
	}
	defer func() {
		_ = f.Close()
	}()
	name := fmt.Sprintf("chunk_%02d/%s", d.cfg.ChunkID, filepath.Base(path))
	if _, err := d.archive.PutObject(ctx, name, "application/json", f); err != nil {
		d.logger.Warn("Archive upload failed", zap.String("seed", doi), zap.Error(err))
	}
}

func (d *Driver) notify(ctx context.Context, summary Summary) {
	if d.publisher == nil {
		return
	}
	msg := ChunkCompleted{Event: "chunk.completed", Summary: summary}
	if _, err := d.publisher.Publish(ctx, d.cfg.NotifyTopic, msg); err != nil {
		d.logger.Warn("Completion notification failed", zap.Error(err))
	}
}
