// Package config handles scheduler configuration loaded from a JSON file
// in the user's config directory, falling back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ByteMirror/lockstep/log"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".lockstep"), nil
}

// Config represents the scheduler configuration.
type Config struct {
	// Workers is the worker count; 0 means the logical CPU count.
	Workers int `json:"workers"`
	// QueueCapacity is the per-worker queue capacity.
	QueueCapacity int `json:"queue_capacity"`
	// Inline selects the single-threaded execution policy.
	Inline bool `json:"inline"`
	// ProfileAlpha is the smoothing factor for system execution profiles.
	ProfileAlpha float64 `json:"profile_alpha"`
	// SplitThresholdMS is the smoothed cost in milliseconds above which a
	// chunkable system is subdivided.
	SplitThresholdMS int `json:"split_threshold_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:          runtime.NumCPU(),
		QueueCapacity:    256,
		Inline:           false,
		ProfileAlpha:     0.2,
		SplitThresholdMS: 2,
	}
}

// LoadConfig loads the configuration from disk. If it cannot be done, we
// return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills zero values with usable defaults.
func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.ProfileAlpha <= 0 || c.ProfileAlpha > 1 {
		c.ProfileAlpha = 0.2
	}
	if c.SplitThresholdMS <= 0 {
		c.SplitThresholdMS = 2
	}
}

// saveConfig saves the configuration to disk.
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveConfig exports the saveConfig function for use by other packages.
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
