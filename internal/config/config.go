// Package config handles Daygrid configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Sync engine
	Sync SyncConfig `json:"sync"`

	// Providers
	Google GoogleConfig `json:"google"`

	// Features
	Features FeatureConfig `json:"features"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// SyncConfig tunes the sync engine
type SyncConfig struct {
	PollInterval     time.Duration `json:"poll_interval"`
	AdapterTimeout   time.Duration `json:"adapter_timeout"`
	MaxAttempts      int           `json:"max_attempts"`
	BackoffBase      time.Duration `json:"backoff_base"`
	BackoffCap       time.Duration `json:"backoff_cap"`
	AuthFailureLimit int           `json:"auth_failure_limit"`
	DefaultInterval  time.Duration `json:"default_interval"` // auto-sync cadence for new connections
}

// GoogleConfig for the Google Calendar provider
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// FeatureConfig for feature flags
type FeatureConfig struct {
	EnableAPI       bool `json:"enable_api"`
	EnableScheduler bool `json:"enable_scheduler"`
	DebugMode       bool `json:"debug_mode"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".daygrid"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Sync: SyncConfig{
			PollInterval:     5 * time.Second,
			AdapterTimeout:   30 * time.Second,
			MaxAttempts:      3,
			BackoffBase:      10 * time.Second,
			BackoffCap:       10 * time.Minute,
			AuthFailureLimit: 3,
			DefaultInterval:  15 * time.Minute,
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  "http://localhost:8765/callback",
		},
		Features: FeatureConfig{
			EnableAPI:       true,
			EnableScheduler: true,
			DebugMode:       false,
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Env always wins for OAuth secrets
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.Google.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.Google.ClientSecret = secret
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// OAuth secrets come from the environment, never the file
	safeCfg := *c
	safeCfg.Google.ClientSecret = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
