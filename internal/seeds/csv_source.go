// Package seeds loads chunk seed lists from CSV files.
package seeds

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/citenet/internal/citation"
	"go.uber.org/zap"
)

const (
	colDOI      = "doi"
	colPubYear  = "pub_year"
	colReplYear = "repl_year"
)

// ChunkFile returns the seed file name for a chunk.
func ChunkFile(chunkID int) string {
	return fmt.Sprintf("chunk_%02d.csv", chunkID)
}

// CSVSource reads {dir}/chunk_{id:02}.csv. Files with a header naming a doi
// column may also carry pub_year and repl_year; the cutoff year is repl_year
// when set, otherwise pub_year. Files without a header hold one DOI per line.
type CSVSource struct {
	dir    string
	logger *zap.Logger
}

// NewCSVSource creates a CSVSource rooted at dir.
func NewCSVSource(dir string, logger *zap.Logger) *CSVSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSource{dir: dir, logger: logger}
}

// Path returns the seed file location for a chunk.
func (s *CSVSource) Path(chunkID int) string {
	return filepath.Join(s.dir, ChunkFile(chunkID))
}

// Seeds loads, normalizes and deduplicates the seeds of a chunk, preserving
// file order.
func (s *CSVSource) Seeds(_ context.Context, chunkID int) ([]citation.Seed, error) {
	path := s.Path(chunkID)
	// #nosec G304 -- path is derived from configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	seeds, skipped, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	s.logger.Info("Loaded seeds",
		zap.String("path", path),
		zap.Int("seeds", len(seeds)),
		zap.Int("skipped", skipped),
	)
	return seeds, nil
}

type columns struct {
	doi, pubYear, replYear int
}

func parse(r io.Reader) ([]citation.Seed, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		seeds   []citation.Seed
		seen    = make(map[string]struct{})
		cols    = columns{doi: 0, pubYear: -1, replYear: -1}
		skipped int
		first   = true
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read record: %w", err)
		}
		if first {
			first = false
			if header, ok := headerColumns(record); ok {
				cols = header
				continue
			}
		}

		seed, ok := toSeed(record, cols)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[seed.DOI]; dup {
			skipped++
			continue
		}
		seen[seed.DOI] = struct{}{}
		seeds = append(seeds, seed)
	}
	return seeds, skipped, nil
}

func headerColumns(record []string) (columns, bool) {
	cols := columns{doi: -1, pubYear: -1, replYear: -1}
	for i, name := range record {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case colDOI:
			cols.doi = i
		case colPubYear:
			cols.pubYear = i
		case colReplYear:
			cols.replYear = i
		}
	}
	return cols, cols.doi >= 0
}

func toSeed(record []string, cols columns) (citation.Seed, bool) {
	doi := citation.NormalizeDOI(field(record, cols.doi))
	if doi == "" {
		return citation.Seed{}, false
	}
	cutoff := parseYear(field(record, cols.replYear))
	if cutoff == 0 {
		cutoff = parseYear(field(record, cols.pubYear))
	}
	return citation.Seed{DOI: doi, CutoffYear: cutoff}, true
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseYear accepts integer and float renderings such as "2010.0".
func parseYear(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v <= 0 {
		return 0
	}
	return int(v)
}
