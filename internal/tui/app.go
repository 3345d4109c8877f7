// internal/tui/app.go
//
// This is the terminal client for a chalk worksheet.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The engine itself is passive: nothing computes unless someone calls
// CheckComp. The client's tick is that someone — every poll interval it
// asks the worksheet to advance its queue and folds whatever finished into
// the display.

package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mhalloran/chalk/internal/cell"
	"github.com/mhalloran/chalk/internal/config"
	"github.com/mhalloran/chalk/internal/logging"
	"github.com/mhalloran/chalk/internal/process"
	"github.com/mhalloran/chalk/internal/worksheet"
)

// focusMode represents which "screen" the keyboard drives: moving between
// cells, or editing the text of one cell.
type focusMode int

const (
	modeNavigate focusMode = iota
	modeEdit
)

// sweepEvery is how many poll ticks pass between idle-process sweeps.
const sweepEvery = 240

// tickMsg is the poll heartbeat.
type tickMsg time.Time

// App is the application model. In bubbletea, this holds ALL your state.
type App struct {
	config  *config.Config
	log     *logging.Logger
	ws      *worksheet.Worksheet
	manager *process.Manager

	// savePath is the plain-text worksheet file; empty disables saving.
	savePath string

	mode      focusMode
	selection int

	editor    textarea.Model
	editingID int

	// completing is set while a tab-completion round trip is in flight
	// for the cell being edited.
	completing bool

	statusMsg string
	width     int
	height    int
	ticks     int
}

// NewApp builds the client around an already-loaded worksheet.
func NewApp(cfg *config.Config, log *logging.Logger, ws *worksheet.Worksheet, manager *process.Manager, savePath string) *App {
	ed := textarea.New()
	ed.Placeholder = "enter program text"
	ed.ShowLineNumbers = false
	ed.SetHeight(6)

	if len(ws.Cells()) == 0 {
		ws.AppendNewCell()
	}

	return &App{
		config:    cfg,
		log:       log,
		ws:        ws,
		manager:   manager,
		savePath:  savePath,
		mode:      modeNavigate,
		editor:    ed,
		statusMsg: "enter → edit cell    ctrl+e → evaluate    q → quit",
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.scheduleTick()
}

func (a *App) pollInterval() time.Duration {
	if a.config != nil {
		return a.config.Notebook.Engine.PollInterval.Std()
	}
	return 250 * time.Millisecond
}

func (a *App) scheduleTick() tea.Cmd {
	return tea.Tick(a.pollInterval(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.editor.SetWidth(max(20, msg.Width-8))
		return a, nil

	case tickMsg:
		a.ticks++
		if a.manager != nil && a.ticks%sweepEvery == 0 {
			if n := a.manager.Sweep(a.config.Notebook.Engine.IdleTimeout.Std()); n > 0 {
				a.logf("Swept %d idle process(es)", n)
			}
		}
		a.pump()
		return a, a.scheduleTick()

	case tea.KeyMsg:
		a.ws.Ping()
		if a.mode == modeEdit {
			return a.updateEdit(msg)
		}
		return a.updateNavigate(msg)
	}

	return a, nil
}

// pump advances the compute queue one step and folds results back into the
// editor when a completion round trip finishes.
func (a *App) pump() {
	st, c := a.ws.CheckComp()
	if st != worksheet.StatusDone || c == nil {
		return
	}
	if c.IntrospectionStatus() == cell.IntrospectDone {
		a.finishCompletion(c)
		return
	}
	a.statusMsg = fmt.Sprintf("cell %d done", c.ID())
}

func (a *App) finishCompletion(c *cell.Cell) {
	defer c.UnsetIntrospect()
	if c.ID() == a.editingID {
		a.completing = false
	}
	// doc and source results show no matter how the request was made:
	// a trailing-? cell evaluated with ctrl+e lands here too
	if text := c.IntrospectText(); text != "" {
		a.statusMsg = firstLine(text)
		return
	}
	if c.ID() != a.editingID {
		return
	}
	if in, ok := c.ChangedInput(); ok {
		a.editor.SetValue(in)
	}
	if words := c.Completions(); len(words) > 0 {
		a.statusMsg = strings.Join(words, "  ")
		return
	}
	a.statusMsg = "no completions"
}

func (a *App) updateNavigate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cells := a.ws.Cells()
	switch msg.String() {
	case "ctrl+c", "q":
		a.shutdown()
		return a, tea.Quit

	case "up", "k":
		if a.selection > 0 {
			a.selection--
		}
	case "down", "j":
		if a.selection < len(cells)-1 {
			a.selection++
		}

	case "enter":
		if c := a.selectedCell(); c != nil {
			a.beginEdit(c)
		}

	case "a":
		c := a.ws.AppendNewCell()
		a.selection = len(a.ws.Cells()) - 1
		a.beginEdit(c)

	case "o":
		if cur := a.selectedCell(); cur != nil {
			c := a.ws.NewCellAfter(cur.ID(), "")
			a.selection++
			a.beginEdit(c)
		}
	case "O":
		if cur := a.selectedCell(); cur != nil {
			c := a.ws.NewCellBefore(cur.ID(), "")
			a.beginEdit(c)
		}

	case "d":
		if cur := a.selectedCell(); cur != nil {
			a.ws.DeleteCell(cur.ID())
			if a.selection >= len(a.ws.Cells()) {
				a.selection = max(0, len(a.ws.Cells())-1)
			}
			a.statusMsg = fmt.Sprintf("deleted cell %d", cur.ID())
		}

	case "x":
		if a.ws.Interrupt() {
			a.statusMsg = "interrupted"
		} else {
			a.statusMsg = "interrupt sent; waiting for the process"
		}

	case "R":
		if err := a.ws.RestartProcess(); err != nil {
			a.statusMsg = fmt.Sprintf("restart failed: %v", err)
		} else {
			a.statusMsg = "process restarted"
		}

	case "D":
		a.ws.DeleteAllOutput()
		a.statusMsg = "all output deleted"

	case "s":
		a.saveWorksheet()
	}
	return a, nil
}

func (a *App) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		a.shutdown()
		return a, tea.Quit

	case "esc":
		a.commitEditor()
		a.mode = modeNavigate
		return a, nil

	case "ctrl+e":
		c := a.commitEditor()
		a.mode = modeNavigate
		if c != nil {
			if err := a.ws.Enqueue(c); err != nil {
				a.statusMsg = fmt.Sprintf("enqueue failed: %v", err)
			} else {
				a.statusMsg = fmt.Sprintf("cell %d queued", c.ID())
			}
		}
		return a, nil

	case "tab":
		c := a.ws.Cell(a.editingID)
		if c == nil {
			return a, nil
		}
		c.SetInput(a.editor.Value())
		c.SetIntrospect(a.editor.Value(), "")
		if err := a.ws.Enqueue(c); err != nil {
			a.statusMsg = fmt.Sprintf("completion failed: %v", err)
			return a, nil
		}
		a.completing = true
		a.statusMsg = "completing..."
		return a, nil
	}

	var cmd tea.Cmd
	a.editor, cmd = a.editor.Update(msg)
	return a, cmd
}

func (a *App) beginEdit(c *cell.Cell) {
	a.mode = modeEdit
	a.editingID = c.ID()
	a.editor.SetValue(c.Input())
	a.editor.Focus()
}

// commitEditor writes the editor text back into the cell being edited and
// returns that cell.
func (a *App) commitEditor() *cell.Cell {
	a.editor.Blur()
	c := a.ws.Cell(a.editingID)
	if c == nil {
		return nil
	}
	if c.Input() != a.editor.Value() {
		c.SetInput(a.editor.Value())
	}
	return c
}

func (a *App) selectedCell() *cell.Cell {
	cells := a.ws.Cells()
	if len(cells) == 0 {
		return nil
	}
	if a.selection >= len(cells) {
		a.selection = len(cells) - 1
	}
	return cells[a.selection]
}

func (a *App) saveWorksheet() {
	if a.savePath == "" {
		a.statusMsg = "no save path configured"
		return
	}
	if err := os.WriteFile(a.savePath, []byte(a.ws.EditText()), 0644); err != nil {
		a.statusMsg = fmt.Sprintf("save failed: %v", err)
		a.logf("Save failed: %v", err)
		return
	}
	a.statusMsg = fmt.Sprintf("saved %s", a.savePath)
}

// shutdown saves and quits the compute process; called on the way out.
func (a *App) shutdown() {
	if a.savePath != "" {
		os.WriteFile(a.savePath, []byte(a.ws.EditText()), 0644)
	}
	a.ws.Close()
}

func (a *App) logf(format string, args ...any) {
	if a.log != nil {
		a.log.Printf(format, args...)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
