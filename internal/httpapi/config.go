package httpapi

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the server's file configuration. Missing fields fall back to
// defaults suitable for local development.
type Config struct {
	Server struct {
		Addr         string `yaml:"addr"`
		JWTSecret    string `yaml:"jwt_secret"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`
	Storage struct {
		RecordsDSN string `yaml:"records_dsn"`
	} `yaml:"storage"`
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyConfigDefaults(&config)
	return &config, nil
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	var config Config
	applyConfigDefaults(&config)
	return &config
}

func applyConfigDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.JWTSecret == "" {
		config.Server.JWTSecret = "dev-secret"
	}
	if config.Server.MaxBodyBytes <= 0 {
		config.Server.MaxBodyBytes = 4 << 20
	}
	if config.Storage.RecordsDSN == "" {
		config.Storage.RecordsDSN = "memory://"
	}
}
