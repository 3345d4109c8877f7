package process

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mhalloran/chalk/internal/kernel"
)

// Local is the reference Adapter: it evaluates batches in-process with the
// chalk kernel instead of driving a child. Executions are synchronous, so
// PollStatus always reports done. It is the fallback when no kernel binary
// is available, and the workhorse of the test suite.
type Local struct {
	kern    *kernel.Kernel
	buf     bytes.Buffer
	status  OutputStatus
	started bool

	tempdirs []string
}

// NewLocal builds an unstarted in-process adapter.
func NewLocal() *Local {
	return &Local{}
}

// Start brings up a fresh interpreter session.
func (l *Local) Start() error {
	if l.started {
		return nil
	}
	l.kern = kernel.New(&l.buf)
	l.status = OutputStatus{Done: true}
	l.started = true
	return nil
}

// IsStarted reports whether Start has run since the last Quit.
func (l *Local) IsStarted() bool { return l.started }

// Execute evaluates the batch immediately. A fresh working area is created
// for produced files; dataDir, when set, is linked into it.
func (l *Local) Execute(text string, dataDir string) error {
	if !l.started {
		if err := l.Start(); err != nil {
			return err
		}
	}
	tmp, err := os.MkdirTemp("", "chalk-cell-")
	if err != nil {
		return fmt.Errorf("process: create working area: %w", err)
	}
	l.tempdirs = append(l.tempdirs, tmp)
	dataName := ""
	if dataDir != "" {
		dataName = filepath.Base(dataDir)
		// best effort; evaluation proceeds without the link on failure
		os.Symlink(dataDir, filepath.Join(tmp, dataName))
	}

	l.buf.Reset()
	l.kern.RunBatch("//chalk:cd " + tmp + "\n" + kernel.PartSeparator + "\n" + text)

	files, _ := listProduced(tmp, dataName)
	l.status = OutputStatus{
		Output:  l.buf.String(),
		Files:   files,
		Done:    true,
		TempDir: tmp,
	}
	return nil
}

// Interrupt is trivially successful: nothing is ever mid-flight.
func (l *Local) Interrupt() bool { return true }

// PollStatus returns the status of the last Execute, then resets to an
// empty done status so output is consumed exactly once.
func (l *Local) PollStatus() (OutputStatus, error) {
	if !l.started {
		return OutputStatus{}, ErrNotStarted
	}
	st := l.status
	l.status = OutputStatus{Done: true}
	return st, nil
}

// Quit discards interpreter state and working areas.
func (l *Local) Quit() {
	l.started = false
	l.kern = nil
	l.buf.Reset()
	for _, d := range l.tempdirs {
		os.RemoveAll(d)
	}
	l.tempdirs = nil
}

// listProduced enumerates files the execution left in the working area,
// skipping the data directory link and any other named housekeeping entries.
func listProduced(dir string, skip ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
next:
	for _, e := range entries {
		for _, s := range skip {
			if e.Name() == s {
				continue next
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
