package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Database DatabaseConfig `toml:"database"`
	Client   ClientConfig   `toml:"client"`
	Queue    QueueConfig    `toml:"queue"`
	Servers  []ServerConfig `toml:"servers"`
}

// LogConfig controls logger verbosity.
type LogConfig struct {
	Level string `toml:"level"`
}

// DatabaseConfig contains settings for the local catalog database.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ClientConfig contains protocol-level client settings shared by all servers.
type ClientConfig struct {
	APIVersion string `toml:"api_version"`
	Name       string `toml:"name"`
	MaxBitRate int    `toml:"max_bit_rate"`
}

// QueueConfig bounds the operation queue.
type QueueConfig struct {
	MaxInflight int     `toml:"max_inflight"`
	RateLimit   float64 `toml:"rate_limit"`
	Timeout     int     `toml:"timeout"`
	MaxRetries  int     `toml:"max_retries"`
}

// ServerConfig describes one remote server endpoint.
type ServerConfig struct {
	Name      string `toml:"name"`
	URL       string `toml:"url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	TokenAuth bool   `toml:"token_auth"`
	Format    string `toml:"format"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the
// embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the
// embedded example config. Refuses to overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
