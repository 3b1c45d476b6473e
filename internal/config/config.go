// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// EnvPrefix is prepended to every environment override, e.g.
// SITECRAWLER_CRAWLER_MAX_PAGES.
const EnvPrefix = "SITECRAWLER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Storage StorageConfig `mapstructure:"storage"`
	State   StateConfig   `mapstructure:"state"`
	Output  OutputConfig  `mapstructure:"output"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl itself.
type CrawlerConfig struct {
	Seeds          []string      `mapstructure:"seeds"`
	DomainRoot     string        `mapstructure:"domain_root"`
	MaxPages       int           `mapstructure:"max_pages"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
	CheckpointMode string        `mapstructure:"checkpoint_mode"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// StorageConfig locates the blob stores used by file and gcs backends.
type StorageConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// StateConfig selects where checkpoints live.
type StateConfig struct {
	Backend  string         `mapstructure:"backend"`
	Key      string         `mapstructure:"key"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls the checkpoint connection pool.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteConfig points at the checkpoint database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig selects where the final results document is written.
type OutputConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// PubSubConfig holds metadata for completion notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// APIConfig controls the optional status server.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Backend names accepted by state.backend and output.backend.
const (
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

// NewViper returns a Viper instance with defaults and environment binding
// applied. Callers may bind flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and returns the
// validated Config.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Env values for list keys arrive as one comma or space separated string.
	cfg.Crawler.Seeds = splitList(cfg.Crawler.Seeds)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.domain_root", "")
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.timeout", 3*time.Second)
	v.SetDefault("crawler.batch_size", 32)
	v.SetDefault("crawler.checkpoint_mode", string(crawler.CheckpointPerRound))
	v.SetDefault("crawler.user_agent", "sitecrawler/1.0")
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("storage.local_dir", ".")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.key", "crawler_state.json")
	v.SetDefault("state.postgres.dsn", "")
	v.SetDefault("state.postgres.table", "crawl_checkpoints")
	v.SetDefault("state.postgres.max_conns", 4)
	v.SetDefault("state.sqlite.path", "crawler_state.db")
	v.SetDefault("output.backend", BackendFile)
	v.SetDefault("output.path", "crawler_results.json")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Crawl-level
// rules (seeds, scope, budget) are checked again by crawler.Config.
func (c Config) Validate() error {
	switch c.State.Backend {
	case BackendFile, BackendNone:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when state.backend is gcs")
		}
	case BackendPostgres:
		if c.State.Postgres.DSN == "" {
			return fmt.Errorf("state.postgres.dsn must be set when state.backend is postgres")
		}
	case BackendSQLite:
		if c.State.SQLite.Path == "" {
			return fmt.Errorf("state.sqlite.path must be set when state.backend is sqlite")
		}
	default:
		return fmt.Errorf("unknown state.backend %q", c.State.Backend)
	}
	switch c.Output.Backend {
	case BackendFile, BackendNone:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when output.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown output.backend %q", c.Output.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr must be set when the api is enabled")
	}
	return nil
}

// EngineConfig converts the crawler section into the engine's settings. An
// empty domain root defaults to the origin of the first seed.
func (c Config) EngineConfig() crawler.Config {
	root := c.Crawler.DomainRoot
	if root == "" && len(c.Crawler.Seeds) > 0 {
		root = originOf(c.Crawler.Seeds[0])
	}
	return crawler.Config{
		Seeds:          append([]string(nil), c.Crawler.Seeds...),
		DomainRoot:     root,
		MaxPages:       c.Crawler.MaxPages,
		FetchTimeout:   c.Crawler.Timeout,
		BatchSize:      c.Crawler.BatchSize,
		CheckpointMode: crawler.CheckpointMode(c.Crawler.CheckpointMode),
	}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t'
		}) {
			out = append(out, part)
		}
	}
	return out
}
