// Package postgres mirrors feature rows into Postgres for ad-hoc querying.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/citenet/internal/citation"
)

const defaultTable = "chunk_features"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FeatureStoreConfig controls the Postgres connection pool used for feature rows.
type FeatureStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FeatureStore writes feature rows keyed by (chunk_id, doi). Re-inserting a
// row is a no-op so that replays after a restart are harmless.
type FeatureStore struct {
	pool  execCloser
	table string
}

// NewFeatureStore connects to Postgres using cfg.
func NewFeatureStore(ctx context.Context, cfg FeatureStoreConfig) (*FeatureStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FeatureStore{pool: pool, table: table}, nil
}

// NewFeatureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFeatureStoreWithPool(pool execCloser, table string) (*FeatureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FeatureStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *FeatureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the feature table when it does not exist.
func (s *FeatureStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	chunk_id integer NOT NULL,
	doi text NOT NULL,
	status text NOT NULL,
	truncated boolean NOT NULL,
	n_nodes integer NOT NULL,
	n_edges integer NOT NULL,
	n_stubs integer NOT NULL,
	depth_reached integer NOT NULL,
	in_degree integer NOT NULL,
	out_degree integer NOT NULL,
	degree_centrality double precision NOT NULL,
	density double precision NOT NULL,
	clustering double precision NOT NULL,
	betweenness double precision NOT NULL,
	gini_out_degree double precision NOT NULL,
	field_homophily_d1 double precision NOT NULL,
	venue_homophily_d1 double precision NOT NULL,
	institution_homophily_d1 double precision NOT NULL,
	field_homophily_weighted double precision NOT NULL,
	field_assortativity double precision NOT NULL,
	modularity double precision NOT NULL,
	author_institution_assortativity double precision NOT NULL,
	author_country_assortativity double precision NOT NULL,
	author_topic_assortativity double precision NOT NULL,
	root_same_inst_frac double precision NOT NULL,
	PRIMARY KEY (chunk_id, doi)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create feature table: %w", err)
	}
	return nil
}

// StoreFeatures inserts a row unless one already exists for the seed.
func (s *FeatureStore) StoreFeatures(ctx context.Context, chunkID int, row citation.FeatureRow) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("feature store is not configured")
	}
	if row.DOI == "" {
		return fmt.Errorf("row doi is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	chunk_id,
	doi,
	status,
	truncated,
	n_nodes,
	n_edges,
	n_stubs,
	depth_reached,
	in_degree,
	out_degree,
	degree_centrality,
	density,
	clustering,
	betweenness,
	gini_out_degree,
	field_homophily_d1,
	venue_homophily_d1,
	institution_homophily_d1,
	field_homophily_weighted,
	field_assortativity,
	modularity,
	author_institution_assortativity,
	author_country_assortativity,
	author_topic_assortativity,
	root_same_inst_frac
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
	$21,$22,$23,$24,$25
) ON CONFLICT (chunk_id, doi) DO NOTHING`, s.table)

	args := []any{
		chunkID,
		row.DOI,
		string(row.Status),
		row.Truncated,
		row.NNodes,
		row.NEdges,
		row.NStubs,
		row.DepthReached,
		row.InDegree,
		row.OutDegree,
		row.DegreeCentrality,
		row.Density,
		row.Clustering,
		row.Betweenness,
		row.GiniOutDegree,
		row.FieldHomophilyD1,
		row.VenueHomophilyD1,
		row.InstitutionHomophilyD1,
		row.FieldHomophilyWeighted,
		row.FieldAssortativity,
		row.Modularity,
		row.AuthorInstitutionAssortativity,
		row.AuthorCountryAssortativity,
		row.AuthorTopicAssortativity,
		row.RootSameInstitutionFrac,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert feature row: %w", err)
	}
	return nil
}
