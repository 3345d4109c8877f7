package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	notebookDir := t.TempDir()
	c, err := NewConfig(notebookDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Notebook.DefaultSystem != "chalk" {
		t.Fatalf("expected default system chalk, got %q", c.Notebook.DefaultSystem)
	}
	if c.Notebook.Engine.MaxOutputBytes != 32000 {
		t.Fatalf("expected default output budget 32000, got %d", c.Notebook.Engine.MaxOutputBytes)
	}
	if c.Notebook.Engine.MaxOutputLines != 120 {
		t.Fatalf("expected default line budget 120, got %d", c.Notebook.Engine.MaxOutputLines)
	}
	if c.Notebook.Engine.IdleTimeout.Std() != time.Hour {
		t.Fatalf("expected default idle timeout 1h, got %s", c.Notebook.Engine.IdleTimeout.Std())
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	notebookDir := t.TempDir()
	chalkDir := filepath.Join(notebookDir, ChalkDir)
	if err := os.MkdirAll(chalkDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := `
version: 1
default_system: gap
kernel_command: [/usr/local/bin/chalk-kernel, --trace]
engine:
  max_output_bytes: 1000
  max_output_lines: 10
  idle_timeout: 5m
  poll_interval: 100ms
`
	if err := os.WriteFile(filepath.Join(chalkDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(notebookDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Notebook.DefaultSystem != "gap" {
		t.Fatalf("default system = %q", c.Notebook.DefaultSystem)
	}
	if len(c.Notebook.KernelCommand) != 2 {
		t.Fatalf("kernel command = %v", c.Notebook.KernelCommand)
	}
	if c.Notebook.Engine.MaxOutputBytes != 1000 || c.Notebook.Engine.MaxOutputLines != 10 {
		t.Fatalf("engine limits = %+v", c.Notebook.Engine)
	}
	if c.Notebook.Engine.IdleTimeout.Std() != 5*time.Minute {
		t.Fatalf("idle timeout = %s", c.Notebook.Engine.IdleTimeout.Std())
	}
}

func TestInitChalkDirCreatesLayout(t *testing.T) {
	notebookDir := t.TempDir()
	if err := InitChalkDir(notebookDir); err != nil {
		t.Fatalf("InitChalkDir: %v", err)
	}
	for _, p := range []string{
		filepath.Join(notebookDir, ChalkDir, "logs"),
		filepath.Join(notebookDir, ChalkDir, "worksheets"),
		filepath.Join(notebookDir, ChalkDir, "config.yaml"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}
}

func TestWorksheetDirCreatesSubdirectories(t *testing.T) {
	notebookDir := t.TempDir()
	c, err := NewConfig(notebookDir)
	if err != nil {
		t.Fatal(err)
	}
	dir, err := c.WorksheetDir("scratch")
	if err != nil {
		t.Fatalf("WorksheetDir: %v", err)
	}
	for _, sub := range []string{"data", "code", "cells"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Fatalf("missing %s: %v", sub, err)
		}
	}
}
