package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Backend kinds and browser variants.
const (
	KindBrowser     = "browser"
	KindLightweight = "lightweight"

	VariantPrimary   = "primary"
	VariantSecondary = "secondary"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type PipelineConfig struct {
	Target             string   `mapstructure:"target"`
	MaxQueries         int      `mapstructure:"max_queries"`
	ExpansionCap       int      `mapstructure:"expansion_cap"`
	MaxResultsPerQuery int      `mapstructure:"max_results_per_query"`
	Deadline           string   `mapstructure:"deadline"`
	MaxConcurrentRuns  int      `mapstructure:"max_concurrent_runs"`
	DefaultCountries   []string `mapstructure:"default_countries"`
}

type CircuitBreakerConfig struct {
	Threshold int    `mapstructure:"threshold"`
	Cooldown  string `mapstructure:"cooldown"`
	Shared    bool   `mapstructure:"shared"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
}

type BackendConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Variant  string `mapstructure:"variant"`
	Tier     int    `mapstructure:"tier"`
	Timeout  string `mapstructure:"timeout"`
	Cooldown string `mapstructure:"cooldown"`
	Retries  int    `mapstructure:"retries"`

	SearchURL string `mapstructure:"search_url"`
	WIPOURL   string `mapstructure:"wipo_url"`

	RemoteURL string `mapstructure:"remote_url"`
	ExecPath  string `mapstructure:"exec_path"`
	Headless  bool   `mapstructure:"headless"`

	MaxRequestsPerSession int    `mapstructure:"max_requests_per_session"`
	MaxSessionAge         string `mapstructure:"max_session_age"`
}

type SiteBounds struct {
	Min string `mapstructure:"min"`
	Max string `mapstructure:"max"`
}

type PacingConfig struct {
	Enabled bool                  `mapstructure:"enabled"`
	Sites   map[string]SiteBounds `mapstructure:"sites"`
}

type IntelligenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
}

type DirectSearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	Timeout   string `mapstructure:"timeout"`
	Threshold int    `mapstructure:"threshold"`
	Cooldown  string `mapstructure:"cooldown"`
	Country   string `mapstructure:"country"`
}

type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      string `mapstructure:"ttl"`
}

type RunStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	Backends       []BackendConfig      `mapstructure:"backends"`
	Targets        map[string][]string  `mapstructure:"targets"`
	Pacing         PacingConfig         `mapstructure:"pacing"`
	Intelligence   IntelligenceConfig   `mapstructure:"intelligence"`
	DirectSearch   DirectSearchConfig   `mapstructure:"direct_search"`
	Cache          CacheConfig          `mapstructure:"cache"`
	RunStore       RunStoreConfig       `mapstructure:"run_store"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("pipeline.target", "google_patents")
	v.SetDefault("pipeline.max_queries", 20)
	v.SetDefault("pipeline.expansion_cap", 10)
	v.SetDefault("pipeline.max_results_per_query", 10)
	v.SetDefault("pipeline.deadline", "30m")
	v.SetDefault("pipeline.max_concurrent_runs", 1)
	v.SetDefault("pipeline.default_countries", []string{"BR"})

	v.SetDefault("circuit_breaker.threshold", 3)
	v.SetDefault("circuit_breaker.cooldown", "5m")
	v.SetDefault("circuit_breaker.shared", true)
	v.SetDefault("health_check.interval", "30s")

	v.SetDefault("backends", []map[string]any{
		{"name": VariantPrimary, "kind": KindBrowser, "variant": VariantPrimary, "tier": 1, "timeout": "60s", "headless": true},
		{"name": VariantSecondary, "kind": KindBrowser, "variant": VariantSecondary, "tier": 2, "timeout": "60s", "headless": true},
		{"name": KindLightweight, "kind": KindLightweight, "tier": 3, "timeout": "30s", "retries": 2},
	})
	v.SetDefault("pacing.enabled", true)
	v.SetDefault("intelligence.enabled", true)
	v.SetDefault("intelligence.timeout", "10s")
	v.SetDefault("direct_search.enabled", true)
	v.SetDefault("direct_search.timeout", "30s")
	v.SetDefault("direct_search.threshold", 3)
	v.SetDefault("direct_search.cooldown", "5m")
	v.SetDefault("direct_search.country", "BR")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("run_store.max_conns", 4)
	v.SetDefault("metrics.buffer_size", 1000)
}

func defaultTargets() map[string][]string {
	return map[string][]string{
		"google_patents": {VariantPrimary, VariantSecondary, KindLightweight},
		"wipo":           {KindLightweight, VariantPrimary, VariantSecondary},
		"inpi":           {KindLightweight, VariantPrimary, VariantSecondary},
	}
}

// Load reads config.yaml from ./config or the working directory.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads path, or searches the default locations when path is empty.
// A missing default file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	// Viper merges map defaults key by key, so default chains are only
	// applied when the file declares no targets at all.
	if len(cfg.Targets) == 0 {
		cfg.Targets = defaultTargets()
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// Backend returns the named backend entry.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if strings.EqualFold(b.Name, name) {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// Duration parses s, returning def when s is empty. Validate has already
// rejected unparsable values.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) backendNames() map[string]bool {
	names := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		names[strings.ToLower(b.Name)] = true
	}
	return names
}

func (c *Config) validateTargets() error {
	known := c.backendNames()
	var errs []error

	for target, chain := range c.Targets {
		if len(chain) == 0 {
			errs = append(errs, fmt.Errorf("target %q: empty chain", target))
		}
		for _, name := range chain {
			if !known[strings.ToLower(name)] {
				errs = append(errs, fmt.Errorf("target %q: unknown backend %q", target, name))
			}
		}
	}

	if _, ok := c.Targets[strings.ToLower(c.Pipeline.Target)]; !ok {
		errs = append(errs, fmt.Errorf("pipeline target %q has no strategy", c.Pipeline.Target))
	}

	return errors.Join(errs...)
}

func (c *Config) validateBackendNames() error {
	seen := make(map[string]bool)
	for _, b := range c.Backends {
		key := strings.ToLower(b.Name)
		if seen[key] {
			return validation.NewError("validation_duplicate_backend", fmt.Sprintf("backend %q declared twice", b.Name))
		}
		seen[key] = true
	}
	return nil
}
