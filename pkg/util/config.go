// Package util provides configuration loading for GameServer Doctor.
package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// LoadConfig loads configuration from a file (YAML or JSON).
// The file format is determined by extension (.yaml, .yml, .json).
// Environment variables are substituted, defaults are applied, and validation
// is performed.
func LoadConfig(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Substitute environment variables before parsing so they work in
	// non-string fields as well (e.g. port: ${PORT}).
	data = []byte(os.ExpandEnv(string(data)))

	var config types.Config

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".json":
		err = json.Unmarshal(data, &config)
	default:
		// Try YAML first, then JSON.
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			err = json.Unmarshal(data, &config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadConfigOrDefault loads configuration from a file, or returns the default
// configuration if the file doesn't exist.
func LoadConfigOrDefault(path string) (*types.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig()
	}
	return LoadConfig(path)
}

// DefaultConfig returns a default configuration. It monitors nothing until
// servers are added to the database or the configuration file, but brings up
// the HTTP surface and pollers so the daemon is inspectable out of the box.
func DefaultConfig() (*types.Config, error) {
	config := &types.Config{}
	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("default configuration invalid: %w", err)
	}
	return config, nil
}
