package config

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the PostGIS connection pool.
type DatabaseConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
	ConnectRetries int    `yaml:"connect_retries" mapstructure:"connect_retries"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"` // analyses per second; 0 disables
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`

	TileCacheSize int           `yaml:"tile_cache_size" mapstructure:"tile_cache_size"` // 0 disables
	TileCacheTTL  time.Duration `yaml:"tile_cache_ttl" mapstructure:"tile_cache_ttl"`
}

// AnalysisConfig configures the buffer analysis.
type AnalysisConfig struct {
	Schema            string        `yaml:"schema" mapstructure:"schema"`
	StagingDir        string        `yaml:"staging_dir" mapstructure:"staging_dir"`
	DefaultBuffer     float64       `yaml:"default_buffer" mapstructure:"default_buffer"`
	DefaultTierColumn string        `yaml:"default_tier_column" mapstructure:"default_tier_column"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOBUFFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Platform variables without the prefix.
	_ = v.BindEnv("database.url", "GEOBUFFER_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("server.port", "GEOBUFFER_SERVER_PORT", "PORT")

	// Defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.rate_limit", 2)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.tile_cache_size", 2048)
	v.SetDefault("server.tile_cache_ttl", "10m")
	v.SetDefault("analysis.schema", "public")
	v.SetDefault("analysis.staging_dir", "/tmp/uploads")
	v.SetDefault("analysis.default_buffer", 30)
	v.SetDefault("analysis.default_tier_column", "severity")
	v.SetDefault("analysis.timeout", 2*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Database.URL = NormalizeDatabaseURL(cfg.Database.URL)

	return &cfg, nil
}

// NormalizeDatabaseURL rewrites the legacy postgres:// scheme some hosting
// platforms emit to postgresql://.
func NormalizeDatabaseURL(url string) string {
	url = strings.TrimSpace(url)
	if rest, ok := strings.CutPrefix(url, "postgres://"); ok {
		return "postgresql://" + rest
	}
	return url
}

// Validate checks the fields a command needs. mode is one of serve, analyze,
// tables or load.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
			errs = append(errs, "server.rate_burst must be >= 1 when rate_limit is set")
		}
		if c.Server.TileCacheSize < 0 {
			errs = append(errs, "server.tile_cache_size must be >= 0")
		}
		errs = append(errs, c.validateAnalysis()...)
	case "analyze":
		errs = append(errs, c.validateAnalysis()...)
	case "tables", "load":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Database.URL == "" {
		errs = append(errs, "database.url is required (or DATABASE_URL)")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		errs = append(errs, "database.min_conns must be between 0 and database.max_conns")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAnalysis() []string {
	var errs []string
	if c.Analysis.Schema == "" {
		errs = append(errs, "analysis.schema is required")
	}
	if c.Analysis.StagingDir == "" {
		errs = append(errs, "analysis.staging_dir is required")
	}
	if c.Analysis.DefaultBuffer <= 0 {
		errs = append(errs, "analysis.default_buffer must be > 0")
	}
	if c.Analysis.Timeout <= 0 {
		errs = append(errs, "analysis.timeout must be > 0")
	}
	return errs
}

// EnsureStagingDir creates the artifact directory if it does not exist.
func (c *Config) EnsureStagingDir() error {
	if err := os.MkdirAll(c.Analysis.StagingDir, 0o755); err != nil {
		return eris.Wrapf(err, "config: create staging dir %s", c.Analysis.StagingDir)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
