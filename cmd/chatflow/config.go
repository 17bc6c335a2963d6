package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rendis/chatflow/internal/agents"
	"github.com/rendis/chatflow/internal/engine"
	"github.com/rendis/chatflow/internal/janitor"
)

// Config holds the chatflow CLI configuration.
// Priority: env vars > chatflow.yaml > defaults. Every key needs a default
// for its CHATFLOW_* variable to be seen by Unmarshal.
type Config struct {
	Store struct {
		Driver string `mapstructure:"driver"` // libsql or redis
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`
	Redis struct {
		Addr      string        `mapstructure:"addr"`
		Password  string        `mapstructure:"password"`
		DB        int           `mapstructure:"db"`
		KeyPrefix string        `mapstructure:"key_prefix"`
		TTL       time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Engine struct {
		MaxCallDepth int    `mapstructure:"max_call_depth"`
		MaxSteps     int    `mapstructure:"max_steps"`
		Provider     string `mapstructure:"provider"`
	} `mapstructure:"engine"`
	Definitions struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"definitions"`
	Model struct {
		APIKey    string `mapstructure:"api_key"`
		BaseURL   string `mapstructure:"base_url"`
		Name      string `mapstructure:"name"`
		MaxTokens int    `mapstructure:"max_tokens"`
	} `mapstructure:"model"`
	Agents  []agents.Spec `mapstructure:"agents"`
	Janitor struct {
		Schedule  string        `mapstructure:"schedule"`
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"janitor"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func chatflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatflow"
	}
	return filepath.Join(home, ".chatflow")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.dsn", filepath.Join(chatflowDir(), "chatflow.db"))
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "")
	v.SetDefault("redis.ttl", time.Duration(0))
	v.SetDefault("engine.max_call_depth", engine.DefaultMaxCallDepth)
	v.SetDefault("engine.max_steps", engine.DefaultMaxSteps)
	v.SetDefault("engine.provider", "openai")
	v.SetDefault("definitions.dir", "workflows")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.name", "gpt-4o-mini")
	v.SetDefault("model.max_tokens", 0)
	v.SetDefault("janitor.schedule", janitor.DefaultSchedule)
	v.SetDefault("janitor.retention", janitor.DefaultRetention)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
}

// loadConfig reads the optional .env file, then chatflow.yaml (or
// configFile when set), then CHATFLOW_* variables.
func loadConfig(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	} else {
		// .env in the working directory is optional.
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("chatflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(chatflowDir())
	}

	v.SetEnvPrefix("CHATFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
