package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type SourceConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SyncConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type Config struct {
	DatabaseURL   string          `mapstructure:"database_url"`
	ServerPort    string          `mapstructure:"server_port"`
	AllowedOrigin string          `mapstructure:"allowed_origin"`
	Source        SourceConfig    `mapstructure:"source"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
	Sync          SyncConfig      `mapstructure:"sync"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.AllowedOrigin == "" {
		config.AllowedOrigin = "http://localhost:3000"
	}
	if config.DatabaseURL == "" {
		log.Fatal("database_url must be set in the config file")
	}
	if config.Source.Host == "" {
		log.Fatal("source.host must be set in the config file")
	}
	if config.Source.Port == 0 {
		config.Source.Port = 3306
	}
	if config.Scheduler.PollInterval == 0 {
		config.Scheduler.PollInterval = 3 * time.Second
	}
	if config.Sync.BatchSize == 0 {
		config.Sync.BatchSize = 5000
	}
	if config.Sync.QueryTimeout == 0 {
		config.Sync.QueryTimeout = 30 * time.Second
	}

	return &config
}
