// Package config loads and validates citenet configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	API       APIConfig       `mapstructure:"api"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Output    OutputConfig    `mapstructure:"output"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ChunkConfig selects the unit of work.
type ChunkConfig struct {
	ID       int    `mapstructure:"id"`
	InputDir string `mapstructure:"input_dir"`
}

// CrawlConfig bounds each seed's BFS and the run's concurrency.
type CrawlConfig struct {
	MaxDepth    int `mapstructure:"max_depth"`
	MaxNodes    int `mapstructure:"max_nodes"`
	NConcurrent int `mapstructure:"n_concurrent"`
}

// APIConfig configures the bibliographic API client.
type APIConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Key            string   `mapstructure:"key"`
	Mailto         string   `mapstructure:"mailto"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	PerPage        int      `mapstructure:"per_page"`
	MaxPages       int      `mapstructure:"max_pages"`
	Directions     []string `mapstructure:"directions"`
}

// RetryConfig configures transient failure retries.
type RetryConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RateLimitConfig paces requests to the API host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// OutputConfig sets where raw networks and feature tables are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// FeaturesConfig selects the depth weighting strategy.
type FeaturesConfig struct {
	Weighting string  `mapstructure:"weighting"`
	Decay     float64 `mapstructure:"decay"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// PostgresConfig enables the feature row mirror when DSN is set.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig enables raw network archiving to GCS when Bucket is set.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig enables chunk completion notifications when both fields are set.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"chunk-id":     "chunk.id",
	"max-depth":    "crawl.max_depth",
	"max-nodes":    "crawl.max_nodes",
	"n-concurrent": "crawl.n_concurrent",
	"output-dir":   "output.dir",
	"input-dir":    "chunk.input_dir",
}

// Load builds a Config from defaults, an optional file, CITENET_* environment
// variables and flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg, err := read(path, flags)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOffline is Load for commands that only inspect local output. It skips
// the checks on API and crawl settings.
func LoadOffline(path string, flags *pflag.FlagSet) (Config, error) {
	cfg, err := read(path, flags)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validateLayout(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CITENET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chunk.id", -1)
	v.SetDefault("chunk.input_dir", "data/chunks")
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.max_nodes", 1000)
	v.SetDefault("crawl.n_concurrent", 32)
	v.SetDefault("api.base_url", "https://api.openalex.org")
	v.SetDefault("api.key", "")
	v.SetDefault("api.mailto", "")
	v.SetDefault("api.user_agent", "citenet/1.0")
	v.SetDefault("api.timeout_seconds", 60)
	v.SetDefault("api.per_page", 200)
	v.SetDefault("api.max_pages", 25)
	v.SetDefault("api.directions", []string{"references", "citations"})
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_initial_ms", 1000)
	v.SetDefault("retry.backoff_max_ms", 30000)
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("output.dir", "data")
	v.SetDefault("features.weighting", "inverse")
	v.SetDefault("features.decay", 0.5)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	// Empty defaults register the keys so that environment overrides reach Unmarshal.
	v.SetDefault("metrics.addr", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "chunk_features")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "networks_raw")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.validateLayout(); err != nil {
		return err
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxNodes < 1 {
		return fmt.Errorf("crawl.max_nodes must be >= 1")
	}
	if c.Crawl.NConcurrent < 1 {
		return fmt.Errorf("crawl.n_concurrent must be >= 1")
	}
	if c.API.Mailto == "" {
		return fmt.Errorf("api.mailto must be set")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if len(c.API.Directions) == 0 {
		return fmt.Errorf("api.directions must name at least one direction")
	}
	for _, d := range c.API.Directions {
		if d != DirectionReferences && d != DirectionCitations {
			return fmt.Errorf("api.directions: unknown direction %q", d)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if (c.Notify.ProjectID == "") != (c.Notify.TopicName == "") {
		return fmt.Errorf("notify.project_id and notify.topic_name must be set together")
	}
	return nil
}

func (c Config) validateLayout() error {
	if c.Chunk.ID < 0 {
		return fmt.Errorf("chunk.id must be >= 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Chunk.InputDir == "" {
		return fmt.Errorf("chunk.input_dir must be set")
	}
	return nil
}

// Edge directions accepted in api.directions.
const (
	DirectionReferences = "references"
	DirectionCitations  = "citations"
)

// HasDirection reports whether api.directions includes d.
func (c APIConfig) HasDirection(d string) bool {
	for _, dir := range c.Directions {
		if dir == d {
			return true
		}
	}
	return false
}

// Timeout returns the per-request timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c RetryConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c RetryConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// ChunkName is the zero-padded chunk label used in directory names.
func (c Config) ChunkName() string {
	return fmt.Sprintf("chunk_%02d", c.Chunk.ID)
}

// NetworkDir is the directory holding raw network files for the chunk.
func (c Config) NetworkDir() string {
	return filepath.Join(c.Output.Dir, "networks_raw", c.ChunkName())
}

// FeatureTablePath is the chunk's feature table.
func (c Config) FeatureTablePath() string {
	return filepath.Join(c.Output.Dir, "features", fmt.Sprintf("results_chunk_%02d.csv", c.Chunk.ID))
}
