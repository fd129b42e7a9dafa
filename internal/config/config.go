package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

const envPrefix = "FULLSTUDY"

const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	Environment string        `mapstructure:"environment" validate:"oneof=development test production"`
	Storage     StorageConfig `mapstructure:"storage"`
	AI          AIConfig      `mapstructure:"ai"`
	Chat        ChatConfig    `mapstructure:"chat"`
	Recall      RecallConfig  `mapstructure:"recall"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Events      EventConfig   `mapstructure:"events"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory sqlite postgres redis"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Driver postgres"`
	RedisURL    string `mapstructure:"redis_url" validate:"required_if=Driver redis"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type AIConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url" validate:"omitempty,url"`
	Model             string `mapstructure:"model" validate:"required"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"gte=0"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
}

type ChatConfig struct {
	TokenLimit int `mapstructure:"token_limit" validate:"gte=0"`
}

type RecallConfig struct {
	// MaximumInterval caps review intervals in days. Zero leaves them unbounded.
	MaximumInterval int `mapstructure:"max_interval" validate:"gte=0"`
}

// CacheConfig enables the redis cache for Learn More lookups.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RedisURL string `mapstructure:"redis_url" validate:"required_if=Enabled true"`
	Prefix   string `mapstructure:"prefix"`
}

// LoadConfig reads .env when present, then FULLSTUDY_* environment
// variables, then the optional file named by FULLSTUDY_CONFIG_FILE.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")
	v.SetDefault("environment", "development")

	v.SetDefault("storage.driver", StorageSQLite)
	v.SetDefault("storage.sqlite_path", "fullstudy.db")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.redis_prefix", "fullstudy:")

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.requests_per_minute", 60)
	v.SetDefault("ai.max_retries", 3)

	v.SetDefault("chat.token_limit", 1_000_000)
	v.SetDefault("recall.max_interval", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.prefix", "fullstudy:cache:")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.publisher", PublisherGoChannel)
	v.SetDefault("events.kafka_brokers", "localhost:9092")
	v.SetDefault("events.topic", "study-events")
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
