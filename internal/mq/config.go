// Package mq connects Conveyor to an AMQP broker: run lifecycle events are
// published to an exchange, and remote dispatch requests are consumed from a
// queue and turned into trigger events.
package mq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoConfig is returned when no broker configuration could be located.
var ErrNoConfig = errors.New("mq: no broker configuration found")

// Config holds AMQP broker connection parameters, loaded from JSON.
type Config struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Vhost    string `json:"vhost"`
}

// URL renders the amqp:// connection string.
func (c Config) URL() string {
	if c.Vhost == "" || c.Vhost == "/" {
		return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.User, c.Password, c.Server, c.Port)
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Server, c.Port, c.Vhost)
}

// Validate checks the minimum fields needed to dial a broker.
func (c Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("mq: server is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mq: port %d out of range", c.Port)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.User == "" {
		c.User = "guest"
	}
	if c.Password == "" {
		c.Password = "guest"
	}
	if c.Vhost == "" {
		c.Vhost = "/"
	}
}

// LoadConfigFile reads broker configuration from a JSON file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mq: read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mq: parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig locates broker configuration. An explicit path is
// authoritative: if it cannot be read that is an error, never a fallthrough
// to the search locations. Otherwise the project's .conveyor/mq.json is
// tried, then the user's ~/.config/conveyor/mq.json.
func LoadConfig(explicitPath, projectDir string) (Config, error) {
	if explicitPath != "" {
		return LoadConfigFile(explicitPath)
	}
	var candidates []string
	if projectDir != "" {
		candidates = append(candidates, filepath.Join(projectDir, ".conveyor", "mq.json"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "conveyor", "mq.json"))
	}
	for _, path := range candidates {
		cfg, err := LoadConfigFile(path)
		if err == nil {
			return cfg, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return Config{}, err
	}
	return Config{}, ErrNoConfig
}
