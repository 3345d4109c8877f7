// Package worksheet implements the cell evaluation engine: a per-document
// FIFO queue that serializes access to one external interpreter process,
// frames submissions with a synchronization counter, and post-processes the
// output stream back into cell state. Nothing in this package blocks or
// spawns timers of its own; all progress happens inside CheckComp, which an
// external driver must call on a cadence.
package worksheet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mhalloran/chalk/internal/cell"
	"github.com/mhalloran/chalk/internal/logging"
	"github.com/mhalloran/chalk/internal/process"
)

// BaseSystem is the execution system evaluated natively by the chalk kernel.
// Any other system name is dispatched through a system wrapper.
const BaseSystem = "chalk"

// ErrPublished is returned when a compute operation is attempted on a
// published (read-only) worksheet.
var ErrPublished = errors.New("worksheet: published worksheets cannot compute")

// Settings carries the knobs a host passes to New. The zero value is usable;
// missing fields fall back to engine defaults.
type Settings struct {
	// DefaultSystem is the execution system cells run under when no
	// directive overrides it. Defaults to BaseSystem.
	DefaultSystem string

	MaxOutputBytes int
	MaxOutputLines int

	Logger *logging.Logger

	// NewAdapter builds a fresh process adapter; called lazily on first
	// compute and again after every restart. Defaults to the in-process
	// reference adapter.
	NewAdapter func() process.Adapter

	// Preprocess, when set, rewrites cleaned input before submission. The
	// literal-syntax rewriting collaborator hooks in here.
	Preprocess func(string) string

	// SaveServer is invoked when a cell carries the save_server directive.
	SaveServer func() error
}

const (
	defaultMaxOutputBytes = 32000
	defaultMaxOutputLines = 120
)

// Worksheet owns an ordered list of cells plus the scheduling state that
// drives their evaluation. Cells never point back at their worksheet; they
// are always manipulated through methods here.
type Worksheet struct {
	name string
	dir  string

	settings Settings

	cells []*cell.Cell
	queue []*cell.Cell

	nextID       int
	nextHiddenID int

	// synchro is the output correlation counter, incremented mod 65536
	// once per submission. -1 means no submission has happened yet.
	synchro int

	adapter    process.Adapter
	session    string
	nextCodeID int

	running bool
	booting bool

	// orphan is an execution still in flight whose cell was deleted; its
	// output is discarded when it completes.
	orphan *cell.Cell

	published bool

	lastActivity time.Time

	attached map[string]time.Time
	watcher  *attachWatcher
}

// New builds a worksheet rooted at dir. The directory is expected to hold
// the data/, cells/ and code/ subdirectories (config.WorksheetDir lays these
// out); they are created on demand otherwise.
func New(name, dir string, s Settings) *Worksheet {
	if s.DefaultSystem == "" {
		s.DefaultSystem = BaseSystem
	}
	if s.MaxOutputBytes <= 0 {
		s.MaxOutputBytes = defaultMaxOutputBytes
	}
	if s.MaxOutputLines <= 0 {
		s.MaxOutputLines = defaultMaxOutputLines
	}
	if s.NewAdapter == nil {
		s.NewAdapter = func() process.Adapter { return process.NewLocal() }
	}
	ws := &Worksheet{
		name:         name,
		dir:          dir,
		settings:     s,
		nextID:       0,
		nextHiddenID: -1,
		synchro:      -1,
		lastActivity: time.Now(),
		attached:     make(map[string]time.Time),
	}
	if w, err := newAttachWatcher(); err == nil {
		ws.watcher = w
	} else {
		ws.logf("attach watcher unavailable, falling back to mtime polling: %v", err)
	}
	return ws
}

func (ws *Worksheet) logf(format string, args ...any) {
	ws.settings.Logger.Printf("worksheet %s: "+format, append([]any{ws.name}, args...)...)
}

// Name returns the worksheet's display name.
func (ws *Worksheet) Name() string { return ws.name }

// Dir returns the worksheet's root directory.
func (ws *Worksheet) Dir() string { return ws.dir }

// DataDir returns the directory on the load search path that holds the
// worksheet's uploaded data files.
func (ws *Worksheet) DataDir() string { return filepath.Join(ws.dir, "data") }

// CellDir returns the directory owned by the given cell, where harvested
// output files and full_output.txt land.
func (ws *Worksheet) CellDir(c *cell.Cell) string {
	return filepath.Join(ws.dir, "cells", strconv.Itoa(c.ID()))
}

func (ws *Worksheet) codeDir() string { return filepath.Join(ws.dir, "code") }

// System returns the worksheet's default execution system.
func (ws *Worksheet) System() string { return ws.settings.DefaultSystem }

// SetSystem changes the worksheet's default execution system.
func (ws *Worksheet) SetSystem(system string) {
	if system == "" {
		system = BaseSystem
	}
	ws.settings.DefaultSystem = system
}

// Published reports whether the worksheet is in the read-only published
// state, which rejects all compute operations.
func (ws *Worksheet) Published() bool { return ws.published }

// SetPublished flips the read-only published state.
func (ws *Worksheet) SetPublished(v bool) { ws.published = v }

// cellSystem resolves the system a cell runs under: its own directive if
// present, the worksheet default otherwise.
func (ws *Worksheet) cellSystem(c *cell.Cell) string {
	if s := c.System(); s != "" {
		return s
	}
	return ws.settings.DefaultSystem
}

//
// Cell list management
//

// Cells returns the worksheet's cells in document order.
func (ws *Worksheet) Cells() []*cell.Cell { return ws.cells }

// Cell returns the cell with the given id, or nil.
func (ws *Worksheet) Cell(id int) *cell.Cell {
	for _, c := range ws.cells {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

func (ws *Worksheet) newCell(input string) *cell.Cell {
	c := cell.New(ws.nextID, input)
	ws.nextID++
	return c
}

func (ws *Worksheet) newHiddenCell(input string) *cell.Cell {
	c := cell.New(ws.nextHiddenID, input)
	ws.nextHiddenID--
	return c
}

// AppendNewCell creates an empty cell at the end of the document.
func (ws *Worksheet) AppendNewCell() *cell.Cell {
	c := ws.newCell("")
	ws.cells = append(ws.cells, c)
	return c
}

// NewCellBefore inserts a new cell before the cell with the given id, or at
// the end of the document when no such cell exists.
func (ws *Worksheet) NewCellBefore(id int, input string) *cell.Cell {
	for i, c := range ws.cells {
		if c.ID() == id {
			n := ws.newCell(input)
			ws.cells = append(ws.cells[:i], append([]*cell.Cell{n}, ws.cells[i:]...)...)
			return n
		}
	}
	c := ws.newCell(input)
	ws.cells = append(ws.cells, c)
	return c
}

// NewCellAfter inserts a new cell after the cell with the given id, or at
// the end of the document when no such cell exists.
func (ws *Worksheet) NewCellAfter(id int, input string) *cell.Cell {
	for i, c := range ws.cells {
		if c.ID() == id {
			n := ws.newCell(input)
			ws.cells = append(ws.cells[:i+1], append([]*cell.Cell{n}, ws.cells[i+1:]...)...)
			return n
		}
	}
	c := ws.newCell(input)
	ws.cells = append(ws.cells, c)
	return c
}

// DeleteCell removes the cell with the given id from the document and prunes
// it from the queue. Deleting the running head orphans the in-flight
// execution; its output is discarded on a later poll. Returns the id of the
// preceding cell, for the client's cursor.
func (ws *Worksheet) DeleteCell(id int) int {
	for i, c := range ws.cells {
		if c.ID() != id {
			continue
		}
		for j, q := range ws.queue {
			if q != c {
				continue
			}
			if j == 0 && ws.running {
				ws.orphan = c
			}
			ws.queue = append(ws.queue[:j], ws.queue[j+1:]...)
			break
		}
		ws.cells = append(ws.cells[:i], ws.cells[i+1:]...)
		os.RemoveAll(ws.CellDir(c))
		if i > 0 {
			return ws.cells[i-1].ID()
		}
		break
	}
	if len(ws.cells) == 0 {
		return 0
	}
	return ws.cells[0].ID()
}

// DeleteAllOutput clears the output of every cell in the document.
func (ws *Worksheet) DeleteAllOutput() {
	for _, c := range ws.cells {
		c.DeleteOutput()
		os.RemoveAll(ws.CellDir(c))
	}
}

// ShowAll sets every cell's output display back to wrapped.
func (ws *Worksheet) ShowAll() {
	for _, c := range ws.cells {
		c.SetDisplayMode(cell.DisplayWrap)
	}
}

// HideAll hides every cell's output.
func (ws *Worksheet) HideAll() {
	for _, c := range ws.cells {
		c.SetDisplayMode(cell.DisplayHidden)
	}
}

//
// Queue management
//

// Queue returns a snapshot of the pending cells, head first.
func (ws *Worksheet) Queue() []*cell.Cell {
	q := make([]*cell.Cell, len(ws.queue))
	copy(q, ws.queue)
	return q
}

// QueueIDs returns the ids of the queued cells, head first.
func (ws *Worksheet) QueueIDs() []int {
	ids := make([]int, len(ws.queue))
	for i, c := range ws.queue {
		ids[i] = c.ID()
	}
	return ids
}

// Computing reports whether a cell is currently being run in the worksheet
// process.
func (ws *Worksheet) Computing() bool { return ws.running }

func (ws *Worksheet) queued(c *cell.Cell) bool {
	for _, q := range ws.queue {
		if q == c {
			return true
		}
	}
	return false
}

// Enqueue queues the cell for evaluation. An asap cell is inserted as close
// to the head as possible: after the running cell, after any asap cells
// already queued, but before everything else. Other cells go to the tail.
// Enqueueing an already-queued cell is a no-op; enqueueing on a published
// worksheet fails with ErrPublished.
func (ws *Worksheet) Enqueue(c *cell.Cell) error {
	if ws.published {
		return ErrPublished
	}
	ws.recordActivity()
	if !ws.queued(c) {
		if c.Asap() {
			i := 0
			// the running cell only occupies the head slot while it is
			// still queued; an orphaned execution leaves the queue empty
			if ws.running && len(ws.queue) > 0 {
				i = 1
			}
			for i < len(ws.queue) && ws.queue[i].Asap() {
				i++
			}
			ws.queue = append(ws.queue[:i], append([]*cell.Cell{c}, ws.queue[i:]...)...)
		} else {
			ws.queue = append(ws.queue, c)
		}
	}
	return ws.StartNextComp()
}

// EvalAsapNoOutput queues a hidden priority cell whose output is discarded,
// for bootstrap statements the user never sees.
func (ws *Worksheet) EvalAsapNoOutput(input string) error {
	c := ws.newHiddenCell(input)
	c.SetAsap(true)
	c.SetNoOutput(true)
	return ws.Enqueue(c)
}

// ClearQueue interrupts every queued cell and empties the queue. The process
// itself is not touched.
func (ws *Worksheet) ClearQueue() {
	for _, c := range ws.queue {
		c.Interrupt()
	}
	ws.queue = nil
	ws.running = false
}

func (ws *Worksheet) popQueue() {
	if len(ws.queue) > 0 {
		ws.queue = ws.queue[1:]
	}
}

// enqueueAutoCells queues every %auto cell, as happens when a fresh process
// session boots.
func (ws *Worksheet) enqueueAutoCells() {
	for _, c := range ws.cells {
		if c.AutoCell() {
			ws.Enqueue(c)
		}
	}
}

//
// Process lifetime
//

// Session returns the token identifying the live process instance. Cells'
// evaluated flags are only meaningful relative to the session that produced
// them.
func (ws *Worksheet) Session() string { return ws.session }

// ProcessStarted reports whether a compute process is up, regardless of
// whether it is currently working.
func (ws *Worksheet) ProcessStarted() bool {
	return ws.adapter != nil && ws.adapter.IsStarted()
}

// process returns the live adapter, spawning and bootstrapping one if
// needed. A fresh session expires the attached-file timestamps (so every
// attachment reloads) and re-queues the %auto cells.
func (ws *Worksheet) process() (process.Adapter, error) {
	if ws.published {
		return nil, ErrPublished
	}
	if ws.adapter != nil && ws.adapter.IsStarted() {
		return ws.adapter, nil
	}
	a := ws.settings.NewAdapter()
	if err := a.Start(); err != nil {
		return nil, fmt.Errorf("worksheet: start process: %w", err)
	}
	ws.adapter = a
	ws.session = uuid.NewString()
	ws.nextCodeID = 0
	for f := range ws.attached {
		ws.attached[f] = time.Time{}
	}
	ws.booting = true
	ws.enqueueAutoCells()
	ws.booting = false
	return a, nil
}

// Quit shuts down the compute process. The queue is preserved: pending
// cells are retried against the next process instance.
func (ws *Worksheet) Quit() {
	if ws.adapter != nil {
		ws.adapter.Quit()
		ws.adapter = nil
	}
	ws.session = ""
	ws.running = false
	ws.orphan = nil
}

// QuitProcess implements process.Handle for the idle-sweeping manager.
func (ws *Worksheet) QuitProcess() { ws.Quit() }

// Close shuts down the process and the attached-file watcher. The worksheet
// is not usable afterwards.
func (ws *Worksheet) Close() {
	ws.Quit()
	if ws.watcher != nil {
		ws.watcher.close()
		ws.watcher = nil
	}
}

// RestartProcess quits and respawns the compute process, then retries the
// still-queued head. In-process language state is lost; the queue is not.
func (ws *Worksheet) RestartProcess() error {
	ws.Quit()
	if _, err := ws.process(); err != nil {
		return err
	}
	return ws.StartNextComp()
}

//
// Idle bookkeeping
//

func (ws *Worksheet) recordActivity() { ws.lastActivity = time.Now() }

// Ping records user activity, deferring idle eviction.
func (ws *Worksheet) Ping() {
	if ws.published {
		return
	}
	ws.recordActivity()
}

// LastActivity implements process.Handle.
func (ws *Worksheet) LastActivity() time.Time { return ws.lastActivity }

// QuitIfIdle shuts the process down if no activity has been recorded for
// longer than timeout. Reports whether an eviction happened.
func (ws *Worksheet) QuitIfIdle(timeout time.Duration) bool {
	if ws.adapter == nil || time.Since(ws.lastActivity) <= timeout {
		return false
	}
	ws.logf("quitting idle process")
	ws.Quit()
	return true
}
