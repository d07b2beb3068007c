package worker_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/citenet/internal/citation"
	"github.com/JakeFAU/citenet/internal/features"
	"github.com/JakeFAU/citenet/internal/id/uuid"
	"github.com/JakeFAU/citenet/internal/publisher/memory"
	"github.com/JakeFAU/citenet/internal/scheduler"
	"github.com/JakeFAU/citenet/internal/storage/featuretable"
	"github.com/JakeFAU/citenet/internal/storage/local"
	"github.com/JakeFAU/citenet/internal/worker"
)

const testChunk = 7

type staticSeeds struct {
	seeds []citation.Seed
	err   error
}

func (s staticSeeds) Seeds(context.Context, int) ([]citation.Seed, error) {
	return s.seeds, s.err
}

type fakeCrawler struct {
	mu     sync.Mutex
	calls  map[string]int
	errs   map[string]error
	status map[string]citation.Status
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		calls:  make(map[string]int),
		errs:   make(map[string]error),
		status: make(map[string]citation.Status),
	}
}

func (f *fakeCrawler) Crawl(_ context.Context, seed citation.Seed) (*citation.Subgraph, error) {
	f.mu.Lock()
	f.calls[seed.DOI]++
	err := f.errs[seed.DOI]
	status, ok := f.status[seed.DOI]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		status = citation.StatusExhausted
	}
	return subgraphFor(seed.DOI, status), nil
}

func (f *fakeCrawler) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func subgraphFor(doi string, status citation.Status) *citation.Subgraph {
	if status == citation.StatusNotFound {
		return &citation.Subgraph{
			Seed:     doi,
			Status:   status,
			MaxDepth: 2,
			MaxNodes: 100,
			Nodes:    []citation.Node{{ID: doi, DOI: doi, Stub: true}},
		}
	}
	ref := doi + "/ref"
	citer := doi + "/citer"
	return &citation.Subgraph{
		Seed:         doi,
		Status:       status,
		MaxDepth:     2,
		MaxNodes:     100,
		DepthReached: 1,
		Nodes: []citation.Node{
			{ID: doi, DOI: doi, Field: "Psychology", Venue: "V1"},
			{ID: ref, DOI: ref, Depth: 1, Field: "Psychology", Venue: "V2"},
			{ID: citer, DOI: citer, Depth: 1, Field: "Economics", Venue: "V1"},
		},
		Edges: []citation.Edge{
			{Source: doi, Target: ref},
			{Source: citer, Target: doi},
			{Source: citer, Target: ref},
		},
	}
}

type failingMirror struct {
	mu    sync.Mutex
	calls int
}

func (m *failingMirror) StoreFeatures(context.Context, int, citation.FeatureRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return errors.New("connection refused")
}

type recordingArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *recordingArchive) PutObject(_ context.Context, path, _ string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[path] = data
	return "gs://bucket/" + path, nil
}

type harness struct {
	dir      string
	networks *local.NetworkStore
	table    *featuretable.Table
	pool     *scheduler.Pool
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()
	networks, err := local.New(local.Config{BaseDir: filepath.Join(dir, "networks_raw", "chunk_07")}, uuid.New())
	require.NoError(t, err)
	table, err := featuretable.Open(filepath.Join(dir, "features", "results_chunk_07.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	pool, err := scheduler.NewPool(4, zap.NewNop())
	require.NoError(t, err)
	return &harness{dir: dir, networks: networks, table: table, pool: pool}
}

func (h *harness) driver(seeds citation.SeedSource, crawler worker.SeedCrawler, opts ...func(*driverDeps)) *worker.Driver {
	deps := &driverDeps{}
	for _, opt := range opts {
		opt(deps)
	}
	cfg := worker.Config{ChunkID: testChunk, RunID: "run-1", Weighting: features.Inverse{}, NotifyTopic: "chunks"}
	logger := deps.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return worker.New(cfg, seeds, crawler, h.networks, h.table, h.pool, deps.mirror, deps.archive, deps.publisher, logger)
}

type driverDeps struct {
	mirror    citation.FeatureMirror
	archive   citation.BlobStore
	publisher citation.Publisher
	logger    *zap.Logger
}

func readRows(t *testing.T, path string) map[string][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, featuretable.Columns, records[0])
	rows := make(map[string][]string, len(records)-1)
	for _, rec := range records[1:] {
		_, dup := rows[rec[0]]
		assert.False(t, dup, "duplicate row for %s", rec[0])
		rows[rec[0]] = rec
	}
	return rows
}

func seedList(dois ...string) staticSeeds {
	out := make([]citation.Seed, 0, len(dois))
	for _, d := range dois {
		out = append(out, citation.Seed{DOI: d})
	}
	return staticSeeds{seeds: out}
}

func TestDriverRunCompletesChunk(t *testing.T) {
	h := newHarness(t, t.TempDir())
	crawler := newFakeCrawler()
	crawler.status["10.1/b"] = citation.StatusTruncated
	crawler.status["10.1/c"] = citation.StatusNotFound
	pub := memory.New()

	d := h.driver(seedList("10.1/a", "10.1/b", "10.1/c"), crawler, func(deps *driverDeps) {
		deps.publisher = pub
	})
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(3), summary.Completed)
	assert.Equal(t, int64(1), summary.Truncated)
	assert.Equal(t, int64(1), summary.NotFound)
	assert.Zero(t, summary.Remaining())
	assert.False(t, summary.StartedAt.IsZero())

	for _, doi := range []string{"10.1/a", "10.1/b", "10.1/c"} {
		ok, err := h.networks.Exists(doi)
		require.NoError(t, err)
		assert.True(t, ok, doi)
	}

	rows := readRows(t, h.table.Path())
	require.Len(t, rows, 3)
	assert.Equal(t, "not_found", rows["10.1/c"][1])
	assert.Equal(t, "1", rows["10.1/c"][3])
	assert.Equal(t, "true", rows["10.1/b"][2])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chunks", msgs[0].Topic)
	done, ok := msgs[0].Payload.(worker.ChunkCompleted)
	require.True(t, ok)
	assert.Equal(t, "chunk.completed", done.Event)
	assert.Equal(t, "7", done.Attributes()["chunk_id"])
	assert.Equal(t, int64(3), done.Completed)
}

func TestDriverRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	seeds := seedList("10.1/a", "10.1/b")

	first := newHarness(t, dir)
	_, err := first.driver(seeds, newFakeCrawler()).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.table.Close())
	before, err := os.ReadFile(first.table.Path())
	require.NoError(t, err)

	second := newHarness(t, dir)
	crawler := newFakeCrawler()
	summary, err := second.driver(seeds, crawler).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, crawler.totalCalls())
	assert.Equal(t, int64(2), summary.Skipped)
	assert.Zero(t, summary.Completed)
	assert.Zero(t, summary.Reconciled)

	after, err := os.ReadFile(second.table.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDriverRecoversInterruptedRun(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)

	// Seed a finished file without its row, next to an abandoned temp file.
	saved := subgraphFor("10.1/a", citation.StatusExhausted)
	_, err := h.networks.Put(context.Background(), saved)
	require.NoError(t, err)
	leftover := h.networks.Path("10.1/b") + ".tmp-deadbeef"
	require.NoError(t, os.WriteFile(leftover, []byte(`{"seed":`), 0o600))

	crawler := newFakeCrawler()
	summary, err := h.driver(seedList("10.1/a", "10.1/b"), crawler).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Reconciled)
	assert.Equal(t, int64(1), summary.Skipped)
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, int64(1), summary.TempFilesRemoved)
	assert.NoFileExists(t, leftover)

	crawler.mu.Lock()
	assert.Zero(t, crawler.calls["10.1/a"])
	assert.Equal(t, 1, crawler.calls["10.1/b"])
	crawler.mu.Unlock()

	rows := readRows(t, h.table.Path())
	require.Len(t, rows, 2)
	want := featuretable.Encode(features.Compute(saved, features.Inverse{}))
	assert.Equal(t, want, rows["10.1/a"])
}

func TestDriverFatalErrorAbortsRun(t *testing.T) {
	h := newHarness(t, t.TempDir())
	crawler := newFakeCrawler()
	crawler.errs["10.1/a"] = fmt.Errorf("fetch: %w", citation.ErrFatal)
	pub := memory.New()

	_, err := h.driver(seedList("10.1/a"), crawler, func(deps *driverDeps) {
		deps.publisher = pub
	}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, citation.ErrFatal)

	ok, err := h.networks.Exists("10.1/a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, pub.Messages())
}

func TestDriverSeedErrorIsCounted(t *testing.T) {
	h := newHarness(t, t.TempDir())
	crawler := newFakeCrawler()
	crawler.errs["10.1/a"] = errors.New("empty seed")

	summary, err := h.driver(seedList("10.1/a", "10.1/b"), crawler).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, 1, h.table.Len())
}

func TestDriverMirrorFailuresAreNotFatal(t *testing.T) {
	h := newHarness(t, t.TempDir())
	mirror := &failingMirror{}
	archive := &recordingArchive{}
	pub := memory.New()
	pub.FailWith(errors.New("topic gone"))

	summary, err := h.driver(seedList("10.1/a", "10.1/b"), newFakeCrawler(), func(deps *driverDeps) {
		deps.mirror = mirror
		deps.archive = archive
		deps.publisher = pub
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Completed)
	assert.Equal(t, 2, mirror.calls)

	name := "chunk_07/" + local.Key("10.1/a") + ".json"
	require.Contains(t, archive.objects, name)
	onDisk, err := os.ReadFile(h.networks.Path("10.1/a"))
	require.NoError(t, err)
	assert.Equal(t, onDisk, archive.objects[name])
}

func TestDriverSeedLoadFailure(t *testing.T) {
	h := newHarness(t, t.TempDir())
	_, err := h.driver(staticSeeds{err: errors.New("missing chunk")}, newFakeCrawler()).Run(context.Background())
	assert.ErrorContains(t, err, "load seeds")
}

func TestDriverCanceledRunWritesNothing(t *testing.T) {
	h := newHarness(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	crawler := newFakeCrawler()
	summary, err := h.driver(seedList("10.1/a", "10.1/b"), crawler).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Completed)
	assert.Equal(t, int64(2), summary.Remaining())
	assert.Zero(t, h.table.Len())
}

type brokenTable struct{}

func (brokenTable) Has(string) bool { return false }

func (brokenTable) Append(citation.FeatureRow) (bool, error) {
	return false, errors.New("disk full")
}

func TestDriverPersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(t, t.TempDir())
	cfg := worker.Config{ChunkID: testChunk, Weighting: features.Inverse{}}
	d := worker.New(cfg, seedList("10.1/a"), newFakeCrawler(), h.networks, brokenTable{}, h.pool, nil, nil, nil, zap.NewNop())

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrPersistence)
	assert.ErrorIs(t, err, citation.ErrFatal)
	assert.ErrorContains(t, err, "disk full")

	// The raw file is written first, so the next run only has to restore the row.
	ok, err := h.networks.Exists("10.1/a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDriverWarnsWhenManySeedsUnavailable(t *testing.T) {
	cases := []struct {
		name        string
		unavailable []string
		warned      bool
	}{
		{name: "HalfUnavailable", unavailable: []string{"10.1/a", "10.1/b"}, warned: true},
		{name: "FewUnavailable", unavailable: []string{"10.1/a"}, warned: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, t.TempDir())
			crawler := newFakeCrawler()
			for _, doi := range tc.unavailable {
				crawler.status[doi] = citation.StatusUnavailable
			}
			core, logs := observer.New(zap.WarnLevel)
			d := h.driver(seedList("10.1/a", "10.1/b", "10.1/c", "10.1/d"), crawler, func(deps *driverDeps) {
				deps.logger = zap.New(core)
			})

			summary, err := d.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(len(tc.unavailable)), summary.Unavailable)
			warnings := logs.FilterMessage("Half or more of the chunk's seeds were unavailable").All()
			if tc.warned {
				require.Len(t, warnings, 1)
				assert.Equal(t, int64(2), warnings[0].ContextMap()["unavailable"])
			} else {
				assert.Empty(t, warnings)
			}
		})
	}
}
