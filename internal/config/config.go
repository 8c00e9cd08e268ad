// Package config provides configuration management for the llmauth token
// service. It handles loading and parsing YAML configuration files, and
// provides structured access to application settings including the broker
// port, token directory, debug settings, proxy configuration, and API keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultAuthDir is where token records live when nothing else is
// configured.
const DefaultAuthDir = "~/.config/llmauth"

// DefaultPort is the token broker's default listen port.
const DefaultPort = 8417

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the token broker will listen.
	Port int `yaml:"port"`

	// AuthDir is the directory where token record files are stored.
	AuthDir string `yaml:"auth-dir"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile redirects logs from stdout to rotated files under logs/.
	LoggingToFile bool `yaml:"logging-to-file"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests to token endpoints. Supports socks5://, http:// and https://.
	ProxyURL string `yaml:"proxy-url"`

	// APIKeys is a list of keys for authenticating clients to the token
	// broker.
	APIKeys []string `yaml:"api-keys"`

	// BrokerKey is a bcrypt hash of a privileged broker key. Clients
	// presenting the matching plaintext may call the broker from anywhere,
	// including the refresh endpoint.
	BrokerKey string `yaml:"broker-key"`

	// AllowLocalhostUnauthenticated allows unauthenticated requests from
	// localhost.
	AllowLocalhostUnauthenticated bool `yaml:"allow-localhost-unauthenticated"`

	// JournalPath overrides the token event journal location. Empty keeps
	// the journal at events.bolt inside AuthDir.
	JournalPath string `yaml:"journal-path"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Port:                          DefaultPort,
		AuthDir:                       DefaultAuthDir,
		AllowLocalhostUnauthenticated: true,
	}
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, fills in defaults for anything left
// unset, and returns it.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.AuthDir == "" {
		config.AuthDir = DefaultAuthDir
	}
	return &config, nil
}

// ResolvedAuthDir expands a leading ~ in AuthDir against the user's home
// directory.
func (c *Config) ResolvedAuthDir() string {
	return expandHome(c.AuthDir)
}

// ResolvedJournalPath is the token event journal location, defaulting to
// events.bolt inside the token directory.
func (c *Config) ResolvedJournalPath() string {
	if c.JournalPath != "" {
		return expandHome(c.JournalPath)
	}
	return filepath.Join(c.ResolvedAuthDir(), "events.bolt")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
