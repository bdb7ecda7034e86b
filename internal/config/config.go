package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	AuthToken string `mapstructure:"auth_token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ResultsConfig struct {
	// Backend is "fs" or "s3".
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Archive bool   `mapstructure:"archive"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

type FlagsConfig struct {
	// Backend is "postgres", "sqlite" or "kubernetes".
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Namespace  string `mapstructure:"namespace"`
	ConfigMap  string `mapstructure:"configmap"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

type LighthouseConfig struct {
	// Engine is "exec" or "docker".
	Engine          string        `mapstructure:"engine"`
	Binary          string        `mapstructure:"binary"`
	ChromePath      string        `mapstructure:"chrome_path"`
	ChromeFlags     []string      `mapstructure:"chrome_flags"`
	Container       string        `mapstructure:"container"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ExtendedTimeout time.Duration `mapstructure:"extended_timeout"`
	StripSubdomain  string        `mapstructure:"strip_subdomain"`
}

type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	AuditInterval time.Duration `mapstructure:"audit_interval"`
	FlagSweep     time.Duration `mapstructure:"flag_sweep"`
	URLWindow     time.Duration `mapstructure:"url_window"`
	JitterMin     time.Duration `mapstructure:"jitter_min"`
	JitterMax     time.Duration `mapstructure:"jitter_max"`
	Timezone      string        `mapstructure:"timezone"`
}

type CleanupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SentryDSN    string  `mapstructure:"sentry_dsn"`
	Environment  string  `mapstructure:"environment"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type Config struct {
	DatabaseURL string           `mapstructure:"database_url"`
	Server      ServerConfig     `mapstructure:"server"`
	Log         LogConfig        `mapstructure:"log"`
	Results     ResultsConfig    `mapstructure:"results"`
	S3          S3Config         `mapstructure:"s3"`
	Flags       FlagsConfig      `mapstructure:"flags"`
	Lighthouse  LighthouseConfig `mapstructure:"lighthouse"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Cleanup     CleanupConfig    `mapstructure:"cleanup"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
	Sites       []SiteConfig     `mapstructure:"sites"`

	// Settings holds the validated per-site settings, keyed by site id.
	Settings map[int]Settings `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("results.backend", "fs")
	v.SetDefault("results.dir", "./audits")
	v.SetDefault("results.archive", false)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "performance-audits")
	v.SetDefault("s3.prefix", "audits")
	v.SetDefault("flags.backend", "postgres")
	v.SetDefault("flags.sqlite_path", "./perfaudit-flags.db")
	v.SetDefault("flags.namespace", "default")
	v.SetDefault("flags.configmap", "perfaudit-flags")
	v.SetDefault("flags.kubeconfig", "")
	v.SetDefault("lighthouse.engine", "exec")
	v.SetDefault("lighthouse.binary", "lighthouse")
	v.SetDefault("lighthouse.chrome_path", "")
	v.SetDefault("lighthouse.container", "lighthouse")
	v.SetDefault("lighthouse.timeout", "60s")
	v.SetDefault("lighthouse.extended_timeout", "300s")
	v.SetDefault("lighthouse.strip_subdomain", "www")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.audit_interval", "24h")
	v.SetDefault("scheduler.flag_sweep", "168h")
	v.SetDefault("scheduler.url_window", "720h")
	v.SetDefault("scheduler.jitter_min", "1s")
	v.SetDefault("scheduler.jitter_max", "5s")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.dir", os.TempDir())
	v.SetDefault("cleanup.interval", "5m")
	v.SetDefault("cleanup.max_age", "5m")
	v.SetDefault("telemetry.service_name", "perfaudit")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.sample_rate", 1.0)
}

// Load reads config.yaml from the current directory or ./config (or the
// file named by PERFAUDIT_CONFIG). Every key can be overridden with a
// PERFAUDIT_ prefixed environment variable, e.g. PERFAUDIT_SERVER_PORT.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("PERFAUDIT_CONFIG"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PERFAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile reads a single YAML file without environment overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings, err := ResolveSites(cfg.Sites)
	if err != nil {
		return nil, err
	}
	cfg.Settings = settings
	return &cfg, nil
}

// Validate checks the service level settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Results.Backend {
	case "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("results.backend must be fs or s3, got %q", c.Results.Backend))
	}
	switch c.Flags.Backend {
	case "postgres", "sqlite", "kubernetes":
	default:
		errs = append(errs, fmt.Errorf("flags.backend must be postgres, sqlite or kubernetes, got %q", c.Flags.Backend))
	}
	switch c.Lighthouse.Engine {
	case "exec", "docker":
	default:
		errs = append(errs, fmt.Errorf("lighthouse.engine must be exec or docker, got %q", c.Lighthouse.Engine))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.Scheduler.JitterMax < c.Scheduler.JitterMin {
		errs = append(errs, errors.New("scheduler.jitter_max must not be below scheduler.jitter_min"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the scheduler time zone, which decides when a day starts.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
