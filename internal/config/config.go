// Package config loads outpost configuration from file, environment, and
// defaults via viper. Library components never read this directly; the CLI
// translates it into each package's explicit Config struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the merged CLI configuration.
type Config struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	ClientID  string `mapstructure:"client_id" yaml:"client_id"`
	StorePath string `mapstructure:"store_path" yaml:"store_path"`

	Table    string   `mapstructure:"table" yaml:"table"`
	Fields   []string `mapstructure:"fields" yaml:"fields,omitempty"`
	Strategy string   `mapstructure:"strategy" yaml:"strategy"`
	Compress bool     `mapstructure:"compress" yaml:"compress"`

	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	TriggerDir   string        `mapstructure:"trigger_dir" yaml:"trigger_dir,omitempty"`
	LogFile      string        `mapstructure:"log_file" yaml:"log_file,omitempty"`

	MaxBytes           uint64  `mapstructure:"max_bytes" yaml:"max_bytes"`
	WarningThreshold   float64 `mapstructure:"warning_threshold" yaml:"warning_threshold"`
	CriticalThreshold  float64 `mapstructure:"critical_threshold" yaml:"critical_threshold"`
	EstimateMultiplier float64 `mapstructure:"estimate_multiplier" yaml:"estimate_multiplier"`

	ServerPort    int `mapstructure:"server_port" yaml:"server_port"`
	DashboardPort int `mapstructure:"dashboard_port" yaml:"dashboard_port"`
}

// Default returns the configuration used when no file or environment
// overrides exist.
func Default() Config {
	return Config{
		ServerURL:          "http://localhost:8390",
		StorePath:          ".outpost/replica.db",
		Table:              "records",
		Strategy:           "server",
		SyncInterval:       30 * time.Second,
		MaxBytes:           50 * 1024 * 1024,
		WarningThreshold:   0.7,
		CriticalThreshold:  0.9,
		EstimateMultiplier: 2.5,
		ServerPort:         8390,
		DashboardPort:      8391,
	}
}

// Load reads configuration from path (or the working directory's
// outpost.yaml when path is empty), applying OUTPOST_* environment
// overrides on top and defaults underneath.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OUTPOST")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("server_url", def.ServerURL)
	v.SetDefault("client_id", def.ClientID)
	v.SetDefault("store_path", def.StorePath)
	v.SetDefault("table", def.Table)
	v.SetDefault("strategy", def.Strategy)
	v.SetDefault("compress", def.Compress)
	v.SetDefault("sync_interval", def.SyncInterval)
	v.SetDefault("max_bytes", def.MaxBytes)
	v.SetDefault("warning_threshold", def.WarningThreshold)
	v.SetDefault("critical_threshold", def.CriticalThreshold)
	v.SetDefault("estimate_multiplier", def.EstimateMultiplier)
	v.SetDefault("server_port", def.ServerPort)
	v.SetDefault("dashboard_port", def.DashboardPort)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("outpost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".outpost")
		if err := v.ReadInConfig(); err != nil {
			// Missing file is fine; defaults and environment apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Write persists the configuration as YAML, creating parent directories as
// needed. Used by `outpost config init` to produce a starter file.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
