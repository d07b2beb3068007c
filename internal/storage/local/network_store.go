// Package local persists raw citation subgraphs as JSON files on the local filesystem.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/citenet/internal/citation"
)

const (
	fileExt      = ".json"
	tempMarker   = ".tmp-"
	maxKeyPrefix = 96
)

var invalidFilenameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Config captures the parameters for the network store.
type Config struct {
	// BaseDir is the chunk directory holding one file per completed seed.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// NetworkStore writes one file per seed. A file under its final name means
// the seed is complete; writes go through a temp file and an atomic rename.
type NetworkStore struct {
	baseDir string
	ids     citation.IDGenerator
	// beforeRename runs between the temp write and the rename. Tests use it
	// to simulate a crash.
	beforeRename func(tmpPath string) error
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config, ids citation.IDGenerator) (*NetworkStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &NetworkStore{baseDir: cfg.BaseDir, ids: ids}, nil
}

// Open returns a read-only view of the store for status reporting. It never
// creates the base directory; a missing directory reads as empty.
func Open(cfg Config) (*NetworkStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	return &NetworkStore{baseDir: cfg.BaseDir}, nil
}

// Key derives a filesystem-safe, collision-resistant file stem for a DOI.
func Key(doi string) string {
	doi = citation.NormalizeDOI(doi)
	sum := sha256.Sum256([]byte(doi))
	base := strings.Trim(invalidFilenameChars.ReplaceAllString(doi, "_"), "_")
	if len(base) > maxKeyPrefix {
		base = base[:maxKeyPrefix]
	}
	if base == "" {
		base = "seed"
	}
	return base + "_" + hex.EncodeToString(sum[:])[:16]
}

// Dir returns the directory the store writes into.
func (s *NetworkStore) Dir() string {
	return s.baseDir
}

// Path returns the final location of a seed's file.
func (s *NetworkStore) Path(doi string) string {
	return filepath.Join(s.baseDir, Key(doi)+fileExt)
}

// Exists reports whether the seed's file is present under its final name.
func (s *NetworkStore) Exists(doi string) (bool, error) {
	_, err := os.Stat(s.Path(doi))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat network file: %w", err)
}

// Put durably writes sg and returns a file:// URI. Nothing appears under the
// final name unless the whole file was written and synced.
func (s *NetworkStore) Put(ctx context.Context, sg *citation.Subgraph) (string, error) {
	if sg == nil || sg.Seed == "" {
		return "", fmt.Errorf("subgraph with a seed is required")
	}
	if s.ids == nil {
		return "", fmt.Errorf("network store is read-only")
	}
	data, err := json.Marshal(sg)
	if err != nil {
		return "", fmt.Errorf("marshal subgraph: %w", err)
	}
	suffix, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate temp suffix: %w", err)
	}

	final := s.Path(sg.Seed)
	tmp := final + tempMarker + suffix
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmp); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write abandoned: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename network file: %w", err)
	}
	if err := syncDir(s.baseDir); err != nil {
		return "", err
	}
	return "file://" + final, nil
}

// Get loads a previously written subgraph.
func (s *NetworkStore) Get(doi string) (*citation.Subgraph, error) {
	// #nosec G304 -- the path is derived from a hashed key inside baseDir.
	data, err := os.ReadFile(s.Path(doi))
	if err != nil {
		return nil, fmt.Errorf("read network file: %w", err)
	}
	var sg citation.Subgraph
	if err := json.Unmarshal(data, &sg); err != nil {
		return nil, fmt.Errorf("decode network file %s: %w", s.Path(doi), err)
	}
	return &sg, nil
}

// CleanTemp removes temp files left behind by interrupted writes.
func (s *NetworkStore) CleanTemp() (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("list network dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), fileExt+tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove temp file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func writeSynced(path string, data []byte) error {
	// #nosec G304 -- the path is derived from a hashed key inside baseDir.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	// #nosec G304 -- dir is the configured base directory.
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open network dir: %w", err)
	}
	defer func() {
		_ = d.Close()
	}()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync network dir: %w", err)
	}
	return nil
}
