// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Generator GeneratorConfig `mapstructure:"generator"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sites     []SiteEntry     `mapstructure:"sites"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines the shared intake secret.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"secret"`
}

// PoolConfig governs worker concurrency and the global throughput limiter.
type PoolConfig struct {
	Size              int `mapstructure:"size"`
	QueueDepth        int `mapstructure:"queue_depth"`
	RateLimit         int `mapstructure:"rate_limit"`
	RateWindowSeconds int `mapstructure:"rate_window_seconds"`
}

// RetryConfig caps attempts per job and sets the backoff base delay.
type RetryConfig struct {
	MaxAttempts        int `mapstructure:"max_attempts"`
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds"`
}

// BrowserConfig controls chromedp session behavior.
type BrowserConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	StepTimeoutSeconds    int    `mapstructure:"step_timeout_seconds"`
	ConfirmTimeoutSeconds int    `mapstructure:"confirm_timeout_seconds"`
	Headless              bool   `mapstructure:"headless"`
}

// GeneratorConfig points at the external content generator collaborator.
type GeneratorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig selects the job store backend. An empty DSN selects the in-memory
// store; a Postgres DSN makes job records survive restarts.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	RetainCompleted int    `mapstructure:"retain_completed"`
	RetainFailed    int    `mapstructure:"retain_failed"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ArchiveConfig selects where generated article HTML is archived.
// Provider is one of "none", "memory", "local", "gcs".
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SiteEntry is one operator-maintained credential record.
type SiteEntry struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load builds a Config from disk/environment. Numbered SITE_<n>_URL /
// SITE_<n>_USERNAME / SITE_<n>_PASSWORD environment entries are merged after
// file-configured sites.
func Load(path string, environ []string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PUBLISHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	envSites, err := SitesFromEnv(environ)
	if err != nil {
		return Config{}, err
	}
	cfg.Sites = append(cfg.Sites, envSites...)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every configuration key. Keys without a meaningful
// default get an empty value so AutomaticEnv surfaces them through Unmarshal;
// an unregistered key is invisible to environment-only deployments.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.secret", "")
	v.SetDefault("pool.size", 2)
	v.SetDefault("pool.queue_depth", 64)
	v.SetDefault("pool.rate_limit", 10)
	v.SetDefault("pool.rate_window_seconds", 60)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.backoff_base_seconds", 5)
	v.SetDefault("browser.user_agent", "publishd/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.step_timeout_seconds", 15)
	v.SetDefault("browser.confirm_timeout_seconds", 30)
	v.SetDefault("browser.headless", true)
	v.SetDefault("generator.endpoint", "")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.timeout_seconds", 120)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "publish_jobs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.retain_completed", 100)
	v.SetDefault("db.retain_failed", 50)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "articles")
	v.SetDefault("logging.development", false)
}

// SitesFromEnv scans environ for numbered SITE_<n>_* triples. A partially
// specified entry (any of the three parts missing) fails loudly at startup
// rather than being probed ad hoc per call.
func SitesFromEnv(environ []string) ([]SiteEntry, error) {
	byIndex := map[int]*SiteEntry{}
	entryFor := func(n int) *SiteEntry {
		if byIndex[n] == nil {
			byIndex[n] = &SiteEntry{}
		}
		return byIndex[n]
	}
	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		body, found := strings.CutPrefix(key, "SITE_")
		if !found {
			continue
		}
		numStr, suffix, found := strings.Cut(body, "_")
		if !found {
			continue
		}
		n, err := strconv.Atoi(numStr)
		if err != nil || n <= 0 {
			continue
		}
		switch suffix {
		case "URL":
			entryFor(n).URL = value
		case "USERNAME":
			entryFor(n).Username = value
		case "PASSWORD":
			entryFor(n).Password = value
		}
	}

	maxIndex := 0
	for n := range byIndex {
		if n > maxIndex {
			maxIndex = n
		}
	}
	var sites []SiteEntry
	for n := 1; n <= maxIndex; n++ {
		entry, ok := byIndex[n]
		if !ok {
			continue
		}
		if entry.URL == "" || entry.Username == "" || entry.Password == "" {
			return nil, fmt.Errorf("site entry %d is incomplete: SITE_%d_URL, SITE_%d_USERNAME and SITE_%d_PASSWORD are all required", n, n, n, n)
		}
		sites = append(sites, *entry)
	}
	return sites, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be > 0")
	}
	if c.Pool.RateLimit <= 0 || c.Pool.RateWindowSeconds <= 0 {
		return fmt.Errorf("pool.rate_limit and pool.rate_window_seconds must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BackoffBaseSeconds <= 0 {
		return fmt.Errorf("retry.backoff_base_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret must be set when auth is enabled")
	}
	if c.Generator.Endpoint == "" {
		return fmt.Errorf("generator.endpoint is required")
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive provider")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive provider")
		}
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	for i, site := range c.Sites {
		if site.URL == "" || site.Username == "" || site.Password == "" {
			return fmt.Errorf("sites[%d] is incomplete: url, username and password are all required", i)
		}
	}
	return nil
}

// RateWindow returns the throughput limiter window as a duration.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.Pool.RateWindowSeconds) * time.Second
}

// BackoffBase returns the retry backoff base delay as a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffBaseSeconds) * time.Second
}

// GeneratorTimeout returns the content generator request budget.
func (c Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}
