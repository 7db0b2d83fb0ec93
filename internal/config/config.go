package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Token     string        `mapstructure:"token"`
	LogLevel  string        `mapstructure:"log_level"`
	Publish   PublishConfig `mapstructure:"publish"`
	Subscribe bool          `mapstructure:"subscribe"`
	RunFor    time.Duration `mapstructure:"run_for"`
}

// PublishConfig describes the optional stream the agent announces on join.
type PublishConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Data       bool   `mapstructure:"data"`
	URL        string `mapstructure:"url"`
	MaxVideoBW uint64 `mapstructure:"max_video_bw"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("log_level", "info")
	v.SetDefault("subscribe", true)
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.data", true)
	v.SetDefault("run_for", "0s")

	v.SetEnvPrefix("roomlink")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
