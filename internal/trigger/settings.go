package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/conveyorci/conveyor/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the trigger listener.
	DefaultPort = 7433
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings captures runtime configuration for the HTTP trigger listener.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig builds Settings from the project's .conveyor config.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	if cfg == nil {
		return settings
	}
	listener := cfg.Project.Listener
	settings.Enabled = listener.Enabled
	if host := strings.TrimSpace(listener.Host); host != "" {
		settings.Host = host
	}
	if listener.Port > 0 && listener.Port <= 65535 {
		settings.Port = listener.Port
	}
	if listener.MaxBodyBytes > 0 {
		settings.MaxBodyBytes = listener.MaxBodyBytes
	}
	return settings
}

// Address returns the host:port pair the listener binds to.
func (s Settings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
