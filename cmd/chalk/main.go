// cmd/chalk/main.go
//
// This is the entry point for the chalk worksheet client.
// Running `chalk [name]` in a directory opens (or creates) the named
// worksheet in that directory's notebook.
//
// Flow:
// 1. Initialize the .chalk folder in the current directory
// 2. Load the worksheet's plain-text file, if it exists
// 3. Launch the TUI, which drives the evaluation engine

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mhalloran/chalk/internal/config"
	"github.com/mhalloran/chalk/internal/logging"
	"github.com/mhalloran/chalk/internal/process"
	"github.com/mhalloran/chalk/internal/tui"
	"github.com/mhalloran/chalk/internal/worksheet"
)

func main() {
	inProcess := flag.Bool("in-process", false, "evaluate in-process instead of spawning a kernel child")
	flag.Parse()

	name := flag.Arg(0)
	if name == "" {
		name = "scratch"
	}

	cwd, err := os.Getwd()
	if err != nil {
		die("determine working directory: %v", err)
	}
	if err := config.InitChalkDir(cwd); err != nil {
		die("initialize .chalk directory: %v", err)
	}
	cfg, err := config.NewConfig(cwd)
	if err != nil {
		die("load configuration: %v", err)
	}

	log, err := logging.New(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: engine log unavailable: %v\n", err)
	}
	defer log.Close()

	wsDir, err := cfg.WorksheetDir(name)
	if err != nil {
		die("create worksheet directory: %v", err)
	}

	ws := worksheet.New(name, wsDir, worksheet.Settings{
		DefaultSystem:  cfg.Notebook.DefaultSystem,
		MaxOutputBytes: cfg.Notebook.Engine.MaxOutputBytes,
		MaxOutputLines: cfg.Notebook.Engine.MaxOutputLines,
		Logger:         log,
		NewAdapter:     adapterFactory(cfg, *inProcess),
	})

	savePath := filepath.Join(wsDir, "worksheet.txt")
	if raw, err := os.ReadFile(savePath); err == nil {
		ws.EditSave(string(raw))
	} else if !errors.Is(err, fs.ErrNotExist) {
		die("read %s: %v", savePath, err)
	}

	manager := process.NewManager()
	manager.Add(ws)

	p := tea.NewProgram(
		tui.NewApp(cfg, log, ws, manager, savePath),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		ws.Close()
		die("run client: %v", err)
	}
}

// adapterFactory picks how the worksheet talks to its interpreter: a
// chalk-kernel child under a pty, or the in-process fallback.
func adapterFactory(cfg *config.Config, inProcess bool) func() process.Adapter {
	command := cfg.Notebook.KernelCommand
	if inProcess || len(command) == 0 {
		return func() process.Adapter { return process.NewLocal() }
	}
	return func() process.Adapter { return process.NewExpect(command) }
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "chalk: "+format+"\n", args...)
	os.Exit(1)
}
