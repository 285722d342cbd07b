package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// LLM providers
const (
	ProviderEcho   = "echo"
	ProviderOpenAI = "openai"
)

// Config holds the application configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Stream StreamConfig `mapstructure:"stream"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	MongoURL      string `mapstructure:"mongo_url"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// LLMConfig holds the reply generator configuration
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// StreamConfig tunes the streaming chat turn
type StreamConfig struct {
	FragmentDelay  time.Duration `mapstructure:"fragment_delay"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "chatbot.db")
	v.SetDefault("store.mongo_url", "")
	v.SetDefault("store.mongo_database", "chatbot_db")

	v.SetDefault("llm.provider", ProviderEcho)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", "")

	v.SetDefault("stream.fragment_delay", time.Duration(0))
	v.SetDefault("stream.persist_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
}

// Load reads configuration from config.yaml (or the file named by CONFIG_PATH),
// then applies CHATBOT_* environment overrides. A .env file in the working
// directory is loaded into the environment first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Store.MongoURL == "" {
			return errors.New("store.mongo_url is required for the mongo driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}

	switch c.LLM.Provider {
	case ProviderEcho:
	case ProviderOpenAI:
		if c.LLM.Model == "" {
			return errors.New("llm.model is required for the openai provider")
		}
	default:
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}

	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server.api_prefix must start with '/': %q", c.Server.APIPrefix)
	}
	return nil
}
