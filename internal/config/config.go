// internal/config/config.go
//
// This package handles configuration and the .conveyor directory structure.
// Every project that uses Conveyor gets a .conveyor/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConveyorDir is the name of the directory we create in each project
	ConveyorDir = ".conveyor"

	defaultWorkflowDir = "workflows"
	defaultShell       = "/bin/sh"
)

const defaultProjectConfigYAML = `# conveyor project configuration
version: 1

runner:
  # Maximum matrix jobs running at once. 0 means no limit.
  max_parallel: 0
  shell: /bin/sh

workflows:
  # Directory (relative to the project root) scanned for workflow YAML files.
  dir: .conveyor/workflows

listener:
  enabled: false
  host: 127.0.0.1
  port: 7433

mq:
  enabled: false
  exchange: conveyor
`

// RunnerSettings controls how jobs are executed on this machine.
type RunnerSettings struct {
	MaxParallel int    `yaml:"max_parallel"`
	Shell       string `yaml:"shell,omitempty"`
	// StepTimeout is a Go duration string bounding each step; empty means
	// no limit.
	StepTimeout string `yaml:"step_timeout,omitempty"`
}

// WorkflowSettings locates workflow definitions for the project.
type WorkflowSettings struct {
	Dir     string `yaml:"dir,omitempty"`
	Default string `yaml:"default,omitempty"`
}

// ListenerSettings configures the HTTP trigger listener.
type ListenerSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty"`
}

// MQSettings configures the optional AMQP event connector.
type MQSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Exchange   string `yaml:"exchange,omitempty"`
	ConfigPath string `yaml:"config_path,omitempty"`
	Service    string `yaml:"service,omitempty"`
}

// ProjectConfig models .conveyor/config.yaml.
type ProjectConfig struct {
	Version   int              `yaml:"version"`
	Runner    RunnerSettings   `yaml:"runner"`
	Workflows WorkflowSettings `yaml:"workflows"`
	Listener  ListenerSettings `yaml:"listener"`
	MQ        MQSettings       `yaml:"mq"`
}

// Config holds the runtime configuration for Conveyor.
type Config struct {
	// ProjectDir is the directory where the user ran `conveyor` from.
	ProjectDir string

	// ConveyorProjectDir is ProjectDir/.conveyor.
	ConveyorProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .conveyor directory structure in the given
// project directory. Called before the first run in a project.
//
// Structure created:
// .conveyor/
// ├── workflows/  <- Workflow definition YAML files
// ├── runs/       <- Per-run state, step logs, and reports
// ├── logs/       <- Runner activity log
// └── plugins/    <- Custom step provider definitions
func InitProjectDir(projectDir string) error {
	conveyorDir := filepath.Join(projectDir, ConveyorDir)

	dirs := []string{
		filepath.Join(conveyorDir, "workflows"),
		filepath.Join(conveyorDir, "runs"),
		filepath.Join(conveyorDir, "logs"),
		filepath.Join(conveyorDir, "plugins"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(conveyorDir, "config.yaml"))
}

// NewConfig creates a Config populated from .conveyor/config.yaml, applying
// defaults when the file is absent.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		ConveyorProjectDir: filepath.Join(projectDir, ConveyorDir),
		Project:            defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkflowsDir returns the directory scanned for workflow definitions.
func (c *Config) WorkflowsDir() string {
	dir := c.Project.Workflows.Dir
	if dir == "" {
		return filepath.Join(c.ConveyorProjectDir, defaultWorkflowDir)
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(c.ProjectDir, dir))
}

// RunsDir returns the directory storing per-run state and artifacts.
func (c *Config) RunsDir() string {
	return filepath.Join(c.ConveyorProjectDir, "runs")
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ConveyorProjectDir, "logs")
}

// PluginsDir returns the directory scanned for step provider plugins.
func (c *Config) PluginsDir() string {
	return filepath.Join(c.ConveyorProjectDir, "plugins")
}

// SecretsPath returns the on-disk location of the project secrets file.
func (c *Config) SecretsPath() string {
	return filepath.Join(c.ConveyorProjectDir, "secrets.yaml")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ConveyorProjectDir, "config.yaml")
}

// Shell returns the shell used to execute run steps.
func (c *Config) Shell() string {
	if c.Project.Runner.Shell == "" {
		return defaultShell
	}
	return c.Project.Runner.Shell
}

// MaxParallel returns the configured job concurrency cap (0 = unlimited).
func (c *Config) MaxParallel() int {
	if c.Project.Runner.MaxParallel < 0 {
		return 0
	}
	return c.Project.Runner.MaxParallel
}

// StepTimeout returns the per-step execution limit, zero when unset.
// Validation guarantees the stored string parses.
func (c *Config) StepTimeout() time.Duration {
	if c.Project.Runner.StepTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Project.Runner.StepTimeout)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Runner:  RunnerSettings{Shell: defaultShell},
		Listener: ListenerSettings{
			Host: "127.0.0.1",
			Port: 7433,
		},
		MQ: MQSettings{Exchange: "conveyor", Service: "conveyor"},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Runner.Shell == "" {
		pc.Runner.Shell = defaultShell
	}
	if pc.Listener.Host == "" {
		pc.Listener.Host = "127.0.0.1"
	}
	if pc.Listener.Port == 0 {
		pc.Listener.Port = 7433
	}
	if pc.MQ.Exchange == "" {
		pc.MQ.Exchange = "conveyor"
	}
	if pc.MQ.Service == "" {
		pc.MQ.Service = "conveyor"
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Runner.Shell = strings.TrimSpace(pc.Runner.Shell)
	pc.Runner.StepTimeout = strings.TrimSpace(pc.Runner.StepTimeout)
	pc.Workflows.Dir = strings.TrimSpace(pc.Workflows.Dir)
	pc.Workflows.Default = strings.TrimSpace(pc.Workflows.Default)
	pc.Listener.Host = strings.TrimSpace(pc.Listener.Host)
	pc.MQ.Exchange = strings.TrimSpace(pc.MQ.Exchange)
	pc.MQ.ConfigPath = strings.TrimSpace(pc.MQ.ConfigPath)
	pc.MQ.Service = strings.TrimSpace(pc.MQ.Service)
}

func (pc ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Runner.MaxParallel < 0 {
		return fmt.Errorf("runner.max_parallel must be >= 0")
	}
	if pc.Listener.Port < 0 || pc.Listener.Port > 65535 {
		return fmt.Errorf("listener.port %d out of range", pc.Listener.Port)
	}
	if pc.Listener.MaxBodyBytes < 0 {
		return fmt.Errorf("listener.max_body_bytes must be >= 0")
	}
	if pc.Runner.StepTimeout != "" {
		if d, err := time.ParseDuration(pc.Runner.StepTimeout); err != nil || d < 0 {
			return fmt.Errorf("runner.step_timeout %q is not a valid duration", pc.Runner.StepTimeout)
		}
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

// SaveProjectConfig persists the in-memory project configuration.
func (c *Config) SaveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ConveyorProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure conveyor dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
