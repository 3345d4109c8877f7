package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/mhalloran/chalk/internal/kernel"
)

// Expect drives a kernel child process under a pseudo-terminal. A reader
// goroutine accumulates the raw stream into a buffer; PollStatus never
// blocks, it only inspects what has been read so far. Completion of a batch
// is detected by the kernel's prompt appearing after the point where the
// batch was submitted.
type Expect struct {
	// Command is the kernel invocation, e.g. ["chalk-kernel"].
	Command []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	tty     *os.File
	buf     strings.Builder
	started bool
	dead    error

	// offset into buf where output of the current execution begins
	mark     int
	tempdir  string
	dataName string
	tempdirs []string
}

// NewExpect builds an adapter that will spawn the given kernel command.
func NewExpect(command []string) *Expect {
	return &Expect{Command: command}
}

// Start spawns the kernel under a pty, begins draining its output and waits
// for the startup prompt.
func (e *Expect) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	if len(e.Command) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("process: no kernel command configured")
	}
	cmd := exec.Command(e.Command[0], e.Command[1:]...)
	tty, err := pty.Start(cmd)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("process: spawn kernel: %w", err)
	}
	e.cmd = cmd
	e.tty = tty
	e.started = true
	e.dead = nil
	e.buf.Reset()
	e.mark = 0
	e.mu.Unlock()
	go e.drain(tty)
	e.awaitPrompt(5 * time.Second)
	return nil
}

// awaitPrompt blocks until the kernel's startup prompt arrives (or the
// timeout passes) and advances the read mark past it, so the first
// PollStatus cannot mistake it for batch completion.
func (e *Expect) awaitPrompt(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		if i := strings.Index(e.buf.String(), kernel.Prompt); i >= 0 {
			e.mark = i + len(kernel.Prompt)
			e.mu.Unlock()
			return
		}
		dead := e.dead != nil
		e.mu.Unlock()
		if dead || !time.Now().Before(deadline) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// drain copies kernel output into the buffer until the pty closes.
func (e *Expect) drain(tty *os.File) {
	chunk := make([]byte, 4096)
	for {
		n, err := tty.Read(chunk)
		if n > 0 {
			e.mu.Lock()
			e.buf.Write(chunk[:n])
			e.mu.Unlock()
		}
		if err != nil {
			e.mu.Lock()
			if e.started {
				e.dead = fmt.Errorf("process: kernel stream closed: %w", err)
			}
			e.mu.Unlock()
			return
		}
	}
}

// IsStarted reports whether the child is up.
func (e *Expect) IsStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && e.dead == nil
}

// batchFile is the name the submitted program text is staged under inside
// the working area. listProduced skips it.
const batchFile = ".chalk-batch"

// Execute submits a batch. The program text is written to a file in a fresh
// working area and the kernel is sent a one-line command naming it: sending
// the text itself through the pty would subject it to the terminal line
// discipline (control bytes eaten, input echoed back into the stream).
// dataDir, when set, is linked into the working area so load statements can
// find worksheet data.
func (e *Expect) Execute(text string, dataDir string) error {
	if !e.IsStarted() {
		if err := e.Start(); err != nil {
			return err
		}
	}
	tmp, err := os.MkdirTemp("", "chalk-cell-")
	if err != nil {
		return fmt.Errorf("process: create working area: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tempdirs = append(e.tempdirs, tmp)
	e.tempdir = tmp
	e.dataName = ""
	if dataDir != "" {
		e.dataName = filepath.Base(dataDir)
		os.Symlink(dataDir, filepath.Join(tmp, e.dataName))
	}
	batch := "//chalk:cd " + tmp + "\n" + kernel.PartSeparator + "\n" + text + "\n"
	path := filepath.Join(tmp, batchFile)
	if err := os.WriteFile(path, []byte(batch), 0o600); err != nil {
		return fmt.Errorf("process: stage batch: %w", err)
	}
	e.mark = e.buf.Len()
	if _, err := e.tty.Write([]byte(kernel.BatchFile + " " + path + "\n")); err != nil {
		e.dead = fmt.Errorf("process: write to kernel: %w", err)
		return e.dead
	}
	return nil
}

// Interrupt writes ctrl-C to the pty. It reports whether the signal could
// be delivered, not whether the computation stopped.
func (e *Expect) Interrupt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.tty == nil {
		return false
	}
	_, err := e.tty.Write([]byte{0x03})
	return err == nil
}

// PollStatus reports everything read since the current execution was
// submitted. Done when the kernel prompt has appeared in that window; the
// prompt itself is stripped from the fragment.
func (e *Expect) PollStatus() (OutputStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return OutputStatus{}, ErrNotStarted
	}
	window := e.buf.String()[e.mark:]
	done := false
	if i := strings.Index(window, kernel.Prompt); i >= 0 {
		window = window[:i]
		done = true
	}
	// a death after the prompt already arrived does not lose the result
	if !done && e.dead != nil {
		return OutputStatus{}, e.dead
	}
	var files []string
	if e.tempdir != "" {
		files, _ = listProduced(e.tempdir, e.dataName, batchFile)
	}
	return OutputStatus{
		Output:  scrubTTY(window),
		Files:   files,
		Done:    done,
		TempDir: e.tempdir,
	}, nil
}

// Quit kills the child and removes its working areas.
func (e *Expect) Quit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	if e.cmd != nil && e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	if e.tty != nil {
		e.tty.Close()
	}
	e.cmd = nil
	e.tty = nil
	for _, d := range e.tempdirs {
		os.RemoveAll(d)
	}
	e.tempdirs = nil
	e.tempdir = ""
}

// scrubTTY undoes pty line discipline artifacts: CRLF normalization and the
// echoed batchfile command line. A partially echoed command (no newline
// yet) means no real output has arrived.
func scrubTTY(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if i := strings.LastIndex(s, kernel.BatchFile); i >= 0 {
		j := strings.Index(s[i:], "\n")
		if j < 0 {
			return ""
		}
		s = s[i+j+1:]
	}
	return s
}
