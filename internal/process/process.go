// Package process defines the contract between the worksheet engine and the
// external interpreter it drives, plus the adapter implementations shipped
// with chalk: an in-process reference interpreter and a pty-backed child
// process. The engine only ever sees the Adapter interface; one live adapter
// exists per worksheet.
package process

import "errors"

// ErrNotStarted is returned when an operation requires a running process
// and there is none.
var ErrNotStarted = errors.New("process: not started")

// OutputStatus is a snapshot of an execution in progress: the output
// accumulated since the last Execute, the files the process has produced so
// far, and whether the execution has finished.
type OutputStatus struct {
	Output string
	Files  []string
	Done   bool

	// TempDir is the process working area the files live in. The caller is
	// responsible for removing it once the computation is done and the
	// files have been harvested.
	TempDir string
}

// Adapter is the abstract interface to the external interpreter. Start is
// idempotent; Execute submits program text for asynchronous evaluation with
// the process chdir'd to a fresh working area (dataDir, when non-empty, is
// linked into it); PollStatus never blocks beyond a short bounded read and
// reports an error only when the process has died.
type Adapter interface {
	Start() error
	IsStarted() bool
	Execute(text string, dataDir string) error
	Interrupt() bool
	PollStatus() (OutputStatus, error)
	Quit()
}
