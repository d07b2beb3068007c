// Package featuretable maintains the append-only CSV feature table of a chunk.
package featuretable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/JakeFAU/citenet/internal/citation"
)

// Columns is the table header, in order.
var Columns = []string{
	"doi",
	"status",
	"truncated",
	"n_nodes",
	"n_edges",
	"n_stubs",
	"depth_reached",
	"in_degree",
	"out_degree",
	"degree_centrality",
	"density",
	"clustering",
	"betweenness",
	"gini_out_degree",
	"field_homophily_d1",
	"venue_homophily_d1",
	"institution_homophily_d1",
	"field_homophily_weighted",
	"field_assortativity",
	"modularity",
	"author_institution_assortativity",
	"author_country_assortativity",
	"author_topic_assortativity",
	"root_same_inst_frac",
}

// ErrSchemaMismatch is returned when an existing table has a different header.
var ErrSchemaMismatch = errors.New("feature table header mismatch")

// Table appends feature rows with at most one row per DOI. Appends are
// serialized and each row reaches disk in a single synced write.
type Table struct {
	mu   sync.Mutex
	path string
	f    *os.File
	dois map[string]struct{}
}

// Open opens or creates the table at path. A trailing line without a newline
// is an interrupted append and is truncated away before the table is used.
func Open(path string) (*Table, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create feature dir: %w", err)
	}
	// #nosec G304 -- path comes from configuration.
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read feature table: %w", err)
	}
	if n := completeLength(data); n < len(data) {
		if err := os.Truncate(path, int64(n)); err != nil {
			return nil, fmt.Errorf("truncate partial row: %w", err)
		}
		data = data[:n]
	}

	dois, err := loadDOIs(data)
	if err != nil {
		return nil, fmt.Errorf("load feature table %s: %w", path, err)
	}

	// #nosec G304 -- path comes from configuration.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open feature table: %w", err)
	}
	t := &Table{path: path, f: f, dois: dois}
	if len(data) == 0 {
		if err := t.writeRecord(Columns); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return t, nil
}

// ReadDOIs returns the DOIs recorded in the table at path without opening it
// for writing. A missing file yields an empty set.
func ReadDOIs(path string) (map[string]struct{}, error) {
	// #nosec G304 -- path comes from configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	return loadDOIs(data[:completeLength(data)])
}

// Path returns the table location.
func (t *Table) Path() string {
	return t.path
}

// Has reports whether a row for doi exists.
func (t *Table) Has(doi string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dois[doi]
	return ok
}

// Len reports the number of rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dois)
}

// Append writes row unless a row for its DOI already exists. It reports
// whether a row was written.
func (t *Table) Append(row citation.FeatureRow) (bool, error) {
	if row.DOI == "" {
		return false, fmt.Errorf("feature row without doi")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.dois[row.DOI]; ok {
		return false, nil
	}
	if err := t.writeRecord(Encode(row)); err != nil {
		return false, err
	}
	t.dois[row.DOI] = struct{}{}
	return true, nil
}

// Close flushes and closes the table.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	if err != nil {
		return fmt.Errorf("close feature table: %w", err)
	}
	return nil
}

func (t *Table) writeRecord(record []string) error {
	if t.f == nil {
		return fmt.Errorf("feature table is closed")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if _, err := t.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("sync feature table: %w", err)
	}
	return nil
}

// Encode renders row in column order. Floats use a fixed precision so that
// recomputing a row yields identical bytes.
func Encode(row citation.FeatureRow) []string {
	return []string{
		row.DOI,
		string(row.Status),
		strconv.FormatBool(row.Truncated),
		strconv.Itoa(row.NNodes),
		strconv.Itoa(row.NEdges),
		strconv.Itoa(row.NStubs),
		strconv.Itoa(row.DepthReached),
		strconv.Itoa(row.InDegree),
		strconv.Itoa(row.OutDegree),
		formatFloat(row.DegreeCentrality),
		formatFloat(row.Density),
		formatFloat(row.Clustering),
		formatFloat(row.Betweenness),
		formatFloat(row.GiniOutDegree),
		formatFloat(row.FieldHomophilyD1),
		formatFloat(row.VenueHomophilyD1),
		formatFloat(row.InstitutionHomophilyD1),
		formatFloat(row.FieldHomophilyWeighted),
		formatFloat(row.FieldAssortativity),
		formatFloat(row.Modularity),
		formatFloat(row.AuthorInstitutionAssortativity),
		formatFloat(row.AuthorCountryAssortativity),
		formatFloat(row.AuthorTopicAssortativity),
		formatFloat(row.RootSameInstitutionFrac),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// completeLength returns the length of data up to and including its last newline.
func completeLength(data []byte) int {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return len(data)
	}
	return bytes.LastIndexByte(data, '\n') + 1
}

func loadDOIs(data []byte) (map[string]struct{}, error) {
	dois := make(map[string]struct{})
	if len(data) == 0 {
		return dois, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, Columns) {
		return nil, fmt.Errorf("%w: got %v", ErrSchemaMismatch, header)
	}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(record) > 0 && record[0] != "" {
			dois[record[0]] = struct{}{}
		}
	}
	return dois, nil
}
