// internal/config/config.go
//
// This package handles configuration and the .chalk directory structure.
// Every notebook directory that chalk opens gets a .chalk/ folder created
// in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ChalkDir is the name of the directory we create in each notebook root
	ChalkDir = ".chalk"

	configFile = "config.yaml"
)

const defaultConfigYAML = `# chalk notebook configuration
version: 1

# Default execution system for worksheets that do not pick one.
default_system: chalk

# Command used to spawn the kernel child process. Leave empty to evaluate
# in-process instead.
kernel_command: [chalk-kernel]

engine:
  max_output_bytes: 32000
  max_output_lines: 120
  idle_timeout: 1h
  poll_interval: 250ms
`

// Duration decodes YAML strings like "250ms" or "1h" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EngineSettings bound the evaluation engine's output handling and process
// lifetime.
type EngineSettings struct {
	MaxOutputBytes int      `yaml:"max_output_bytes"`
	MaxOutputLines int      `yaml:"max_output_lines"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
}

// NotebookConfig models .chalk/config.yaml.
type NotebookConfig struct {
	Version       int            `yaml:"version"`
	DefaultSystem string         `yaml:"default_system"`
	KernelCommand []string       `yaml:"kernel_command"`
	Engine        EngineSettings `yaml:"engine"`
}

// Config holds the runtime configuration for one notebook directory.
type Config struct {
	// NotebookDir is the directory the user opened
	NotebookDir string

	// ChalkNotebookDir is NotebookDir/.chalk
	ChalkNotebookDir string

	Notebook NotebookConfig
}

// InitChalkDir creates the .chalk directory structure in the given notebook
// directory. This is called when the TUI starts up.
//
// Structure created:
// .chalk/
// ├── logs/        <- engine log
// └── worksheets/  <- one directory per worksheet:
//
//	└── <name>/
//	    ├── data/    <- files on the load path
//	    ├── code/    <- program text sent to the process
//	    └── cells/   <- per-cell output directories
func InitChalkDir(notebookDir string) error {
	chalkDir := filepath.Join(notebookDir, ChalkDir)

	dirs := []string{
		filepath.Join(chalkDir, "logs"),
		filepath.Join(chalkDir, "worksheets"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	cfgPath := filepath.Join(chalkDir, configFile)
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0644); err != nil {
			return fmt.Errorf("config: write default config: %w", err)
		}
	}
	return nil
}

// NewConfig creates a new Config instance populated with notebook settings.
// Missing config.yaml fields fall back to defaults.
func NewConfig(notebookDir string) (*Config, error) {
	cfg := &Config{
		NotebookDir:      notebookDir,
		ChalkNotebookDir: filepath.Join(notebookDir, ChalkDir),
		Notebook:         defaultNotebookConfig(),
	}

	raw, err := os.ReadFile(filepath.Join(cfg.ChalkNotebookDir, configFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read config.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg.Notebook); err != nil {
		return nil, fmt.Errorf("config: parse config.yaml: %w", err)
	}
	applyDefaults(&cfg.Notebook)
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ChalkNotebookDir, "logs")
}

// WorksheetDir returns the directory owned by the named worksheet, creating
// it and its data/, code/ and cells/ subdirectories as needed.
func (c *Config) WorksheetDir(name string) (string, error) {
	dir := filepath.Join(c.ChalkNotebookDir, "worksheets", name)
	for _, sub := range []string{"data", "code", "cells"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return "", fmt.Errorf("config: create worksheet dir: %w", err)
		}
	}
	return dir, nil
}

func defaultNotebookConfig() NotebookConfig {
	n := NotebookConfig{Version: 1}
	applyDefaults(&n)
	return n
}

func applyDefaults(n *NotebookConfig) {
	if n.DefaultSystem == "" {
		n.DefaultSystem = "chalk"
	}
	if n.Engine.MaxOutputBytes <= 0 {
		n.Engine.MaxOutputBytes = 32000
	}
	if n.Engine.MaxOutputLines <= 0 {
		n.Engine.MaxOutputLines = 120
	}
	if n.Engine.IdleTimeout <= 0 {
		n.Engine.IdleTimeout = Duration(time.Hour)
	}
	if n.Engine.PollInterval <= 0 {
		n.Engine.PollInterval = Duration(250 * time.Millisecond)
	}
}
