package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Enhancer  EnhancerConfig  `mapstructure:"enhancer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Lock      LockConfig      `mapstructure:"lock"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// RefreshConfig tunes the bulk refresh run.
type RefreshConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"` // total attempts per country
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Timezone     string        `mapstructure:"timezone"` // decides what "today" means for admission
}

// Location resolves Timezone, falling back to UTC.
func (c RefreshConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Cron          string        `mapstructure:"cron"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	CatchUpWindow time.Duration `mapstructure:"catch_up_window"`
}

type SourceConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SourcesConfig struct {
	StateAdvisory SourceConfig `mapstructure:"state_advisory"`
	HealthNotice  SourceConfig `mapstructure:"health_notice"`
	Seismic       SourceConfig `mapstructure:"seismic"`
	Crisis        SourceConfig `mapstructure:"crisis"`
	Background    SourceConfig `mapstructure:"background"`
}

type EnhancerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"` // openai, anthropic
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig configures the raw snapshot archive.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // s3, local
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	LocalPath string `mapstructure:"local_path"`
}

// LockConfig selects the admission lock. An empty RedisURL keeps it in-process.
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file, .env and the environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
// Returns:
//   - *Config: resolved configuration.
//   - error: non-nil if the file exists but cannot be parsed.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment knobs
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("enhancer.api_key", "ENHANCER_API_KEY")
	_ = v.BindEnv("enhancer.base_url", "ENHANCER_BASE_URL")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("lock.redis_url", "REDIS_URL")
	_ = v.BindEnv("refresh.timezone", "REFRESH_TIMEZONE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/safetrip.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "safetrip")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("refresh.batch_size", 5)
	v.SetDefault("refresh.max_retries", 3)
	v.SetDefault("refresh.base_delay", 2*time.Second)
	v.SetDefault("refresh.max_delay", 10*time.Second)
	v.SetDefault("refresh.batch_delay", 2*time.Second)
	v.SetDefault("refresh.fetch_timeout", 60*time.Second)
	v.SetDefault("refresh.timezone", "UTC")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 3 * * 1")
	v.SetDefault("scheduler.poll_interval", time.Minute)
	v.SetDefault("scheduler.catch_up_window", time.Hour)

	v.SetDefault("sources.state_advisory.enabled", true)
	v.SetDefault("sources.state_advisory.base_url", "https://cadataapi.state.gov/api")
	v.SetDefault("sources.state_advisory.timeout", 15*time.Second)
	v.SetDefault("sources.health_notice.enabled", true)
	v.SetDefault("sources.health_notice.base_url", "https://wwwnc.cdc.gov/travel/rss/notices.xml")
	v.SetDefault("sources.health_notice.timeout", 15*time.Second)
	v.SetDefault("sources.seismic.enabled", true)
	v.SetDefault("sources.seismic.base_url", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/significant_month.geojson")
	v.SetDefault("sources.seismic.timeout", 15*time.Second)
	v.SetDefault("sources.crisis.enabled", true)
	v.SetDefault("sources.crisis.base_url", "https://api.reliefweb.int/v1")
	v.SetDefault("sources.crisis.timeout", 15*time.Second)
	v.SetDefault("sources.background.enabled", true)
	v.SetDefault("sources.background.base_url", "https://restcountries.com/v3.1")
	v.SetDefault("sources.background.timeout", 15*time.Second)

	v.SetDefault("enhancer.enabled", false)
	v.SetDefault("enhancer.provider", "openai")
	v.SetDefault("enhancer.model", "gpt-4o-mini")
	v.SetDefault("enhancer.timeout", 30*time.Second)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.bucket", "advisory-snapshots")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.local_path", "./data/snapshots")

	v.SetDefault("lock.ttl", 30*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects settings the refresh loop cannot run with.
func (c *Config) Validate() error {
	if c.Refresh.BatchSize < 1 {
		return fmt.Errorf("refresh.batch_size must be >= 1, got %d", c.Refresh.BatchSize)
	}
	if c.Refresh.MaxRetries < 1 {
		return fmt.Errorf("refresh.max_retries must be >= 1, got %d", c.Refresh.MaxRetries)
	}
	if c.Refresh.MaxDelay < c.Refresh.BaseDelay {
		return fmt.Errorf("refresh.max_delay (%s) is below refresh.base_delay (%s)", c.Refresh.MaxDelay, c.Refresh.BaseDelay)
	}
	if c.Scheduler.Enabled && c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	return nil
}
