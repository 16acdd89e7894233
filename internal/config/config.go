// This file defines the configuration structure for the application.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port      int    `mapstructure:"port"`
	ConfigDir string `mapstructure:"config_dir"`
	Automated bool   `mapstructure:"automated"`
	LogLevel  string `mapstructure:"log_level"`
	Country   string `mapstructure:"country"`
	Database  struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Hosting struct {
		APIURL  string `mapstructure:"api_url"`
		GitURL  string `mapstructure:"git_url"`
		Token   string `mapstructure:"token"`
		Timeout int    `mapstructure:"timeout"`
	} `mapstructure:"hosting"`
	Versions struct {
		Host    string `mapstructure:"host"`
		Manager string `mapstructure:"manager"`
	} `mapstructure:"versions"`
	Queue struct {
		MaxConcurrent     int `mapstructure:"max_concurrent"`
		QuotaDivisor      int `mapstructure:"quota_divisor"`
		ForceQuotaDivisor int `mapstructure:"force_quota_divisor"`
		MaxAttempts       int `mapstructure:"max_attempts"`
		RetryDelayMS      int `mapstructure:"retry_delay_ms"`
		IdleDelaySeconds  int `mapstructure:"idle_delay_seconds"`
	} `mapstructure:"queue"`
	Install struct {
		DownloadFanout        int    `mapstructure:"download_fanout"`
		RemovalTimeoutSeconds int    `mapstructure:"removal_timeout_seconds"`
		BackupDir             string `mapstructure:"backup_dir"`
		ManifestFile          string `mapstructure:"manifest_file"`
	} `mapstructure:"install"`
	Schedule struct {
		// Intervals are in minutes; zero disables the job.
		InstalledInterval int `mapstructure:"installed_interval"`
		FullInterval      int `mapstructure:"full_interval"`
	} `mapstructure:"schedule"`
	API struct {
		TokenHash string `mapstructure:"token_hash"`
	} `mapstructure:"api"`
	Validation struct {
		BrandsRepository string `mapstructure:"brands_repository"`
	} `mapstructure:"validation"`
}

func (c *Config) HostingTimeout() time.Duration {
	return time.Duration(c.Hosting.Timeout) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Queue.RetryDelayMS) * time.Millisecond
}

func (c *Config) IdleDelay() time.Duration {
	return time.Duration(c.Queue.IdleDelaySeconds) * time.Second
}

func (c *Config) RemovalTimeout() time.Duration {
	return time.Duration(c.Install.RemovalTimeoutSeconds) * time.Second
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the current directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
	}

	// REPOKEEP_DATABASE_PATH overrides `database.path`.
	v.SetEnvPrefix("REPOKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("config_dir", "./config")
	v.SetDefault("automated", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("country", "")
	v.SetDefault("database.path", "./repokeep.db")
	v.SetDefault("hosting.api_url", "https://api.github.com")
	v.SetDefault("hosting.git_url", "https://github.com")
	v.SetDefault("hosting.token", "")
	v.SetDefault("hosting.timeout", 30)
	v.SetDefault("versions.host", "")
	v.SetDefault("versions.manager", "")
	v.SetDefault("queue.max_concurrent", 10)
	v.SetDefault("queue.quota_divisor", 3)
	v.SetDefault("queue.force_quota_divisor", 6)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retry_delay_ms", 100)
	v.SetDefault("queue.idle_delay_seconds", 60)
	v.SetDefault("install.download_fanout", 3)
	v.SetDefault("install.removal_timeout_seconds", 10)
	v.SetDefault("install.backup_dir", "")
	v.SetDefault("install.manifest_file", "hacs.json")
	v.SetDefault("schedule.installed_interval", 60)
	v.SetDefault("schedule.full_interval", 480)
	v.SetDefault("api.token_hash", "")
	v.SetDefault("validation.brands_repository", "home-assistant/brands")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
