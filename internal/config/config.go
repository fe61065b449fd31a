package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Replay    ReplayConfig    `yaml:"replay" mapstructure:"replay"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver is "sqlite" or
// "postgres"; Path is used by sqlite, DatabaseURL by postgres.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PipelineConfig configures enrichment run behavior.
type PipelineConfig struct {
	Workers             int    `yaml:"workers" mapstructure:"workers"`
	CheckpointInterval  int    `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	DefaultFetchTimeout string `yaml:"default_fetch_timeout" mapstructure:"default_fetch_timeout"`
	RulesFile           string `yaml:"rules_file" mapstructure:"rules_file"`
}

// ProvidersConfig configures external metadata providers.
type ProvidersConfig struct {
	// RateLimits maps provider name to max calls per second (0 = unlimited).
	RateLimits map[string]float64 `yaml:"rate_limits" mapstructure:"rate_limits"`
	// Disabled lists providers excluded from waterfalls at startup.
	Disabled []string `yaml:"disabled" mapstructure:"disabled"`
}

// ReplayConfig configures the replay worker.
type ReplayConfig struct {
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ImportConfig configures raw record ingestion.
type ImportConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for the given command mode.
// Modes: "run" (enrichment pipeline), "serve" (operator API),
// "replay" (replay worker).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
		problems = append(problems, "pipeline.workers must be between 1 and 64")
	}
	if c.Pipeline.CheckpointInterval < 1 {
		problems = append(problems, "pipeline.checkpoint_interval must be >= 1")
	}
	for name, limit := range c.Providers.RateLimits {
		if limit < 0 {
			problems = append(problems, "providers.rate_limits."+name+" must be >= 0")
		}
	}

	switch mode {
	case "run", "replay":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "trackline.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.checkpoint_interval", 25)
	v.SetDefault("pipeline.default_fetch_timeout", "5s")
	v.SetDefault("pipeline.rules_file", "rules.yaml")
	v.SetDefault("replay.poll_interval", "5s")
	v.SetDefault("import.batch_size", 500)
	v.SetDefault("server.port", 8080)
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

	return &cfg, nil
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
