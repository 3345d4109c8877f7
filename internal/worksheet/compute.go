package worksheet

import (
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhalloran/chalk/internal/cell"
)

// Status is the result tag of a CheckComp poll.
type Status string

const (
	// StatusEmpty means nothing is queued.
	StatusEmpty Status = "empty"
	// StatusWorking means the head cell is still computing.
	StatusWorking Status = "working"
	// StatusDone means the head cell finished this tick and was popped.
	StatusDone Status = "done"
)

// StartNextComp submits the queue head to the compute process. It is a
// no-op when the queue is empty or an execution is already running. A cell
// that fails the static syntax check gets the error as its output and is
// popped without contacting the process; no further cells are popped in the
// same call.
func (ws *Worksheet) StartNextComp() error {
	if len(ws.queue) == 0 || ws.running || ws.booting {
		return nil
	}
	c := ws.queue[0]
	if c.Interrupted() {
		// resolved by the next CheckComp
		return nil
	}
	system := ws.cellSystem(c)

	var src string
	if in := c.Introspecting(); system == BaseSystem && in != nil {
		src = in.Before
	} else {
		src = c.CleanedInput()
		switch strings.TrimSpace(src) {
		case "restart", "quit", "exit":
			ws.popQueue()
			c.SetOutput(fmt.Sprintf("Exited %s process", ws.settings.DefaultSystem), "")
			return ws.RestartProcess()
		}
	}

	if c.HasDirective("save_server") && ws.settings.SaveServer != nil {
		if err := ws.settings.SaveServer(); err != nil {
			ws.logf("save_server: %v", err)
		}
	}

	ws.nextCodeID++
	c.CodeID = ws.nextCodeID

	// If the input ends in a question mark on a non-comment line, it is an
	// introspection request rather than code to evaluate.
	if system == BaseSystem && len(src) != 0 && c.Introspecting() == nil {
		lines := strings.Split(strings.TrimSpace(src), "\n")
		last := strings.TrimSpace(lines[len(lines)-1])
		if strings.HasSuffix(last, "?") && !strings.HasPrefix(last, "//") {
			c.SetIntrospect(src, "")
		}
	}

	// Join lines that end in a backslash.
	src = strings.ReplaceAll(src, "\\\n", "")

	if system == BaseSystem && c.Introspecting() == nil {
		if msg, ok := syntaxCheck(src); !ok {
			c.SetOutput(msg, "")
			ws.popQueue()
			return nil
		}
	}

	input := fmt.Sprintf("//chalk:cell %d\n", c.ID())
	if c.Timed() && c.Introspecting() == nil {
		input += "//chalk:time\n"
	}
	input += ws.prepareInput(src, c)

	text := ws.synchronize(input)

	a, err := ws.process()
	if err != nil {
		return err
	}
	ws.recordActivity()
	ws.running = true
	if err := a.Execute(text, ws.DataDir()); err != nil {
		ws.running = false
		return fmt.Errorf("worksheet: submit cell %d: %w", c.ID(), err)
	}
	return nil
}

// syntaxCheck parses the snippet as a function body. On failure it returns
// the offending source line as a diagnostic; the line mapping is best
// effort, since compiler message formats vary.
func syntaxCheck(src string) (string, bool) {
	wrapped := "package p\nfunc _() {\n" + src + "\n}"
	_, err := parser.ParseFile(token.NewFileSet(), "", wrapped, parser.SkipObjectResolution)
	if err == nil {
		return "", true
	}
	if list, ok := err.(scanner.ErrorList); ok && len(list) > 0 {
		n := list[0].Pos.Line - 2 // strip the wrapper lines
		lines := strings.Split(src, "\n")
		if n >= 1 && n <= len(lines) {
			return "Syntax Error:\n    " + lines[n-1], false
		}
	}
	return "Syntax Error:\n    " + strings.SplitN(strings.TrimSpace(src), "\n", 2)[0], false
}

// CheckComp polls the computation at the head of the queue. It never
// blocks: the driver must keep calling it until it stops reporting working.
func (ws *Worksheet) CheckComp() (Status, *cell.Cell) {
	if ws.orphan != nil {
		return ws.checkOrphan()
	}
	if len(ws.queue) == 0 {
		return StatusEmpty, nil
	}
	c := ws.queue[0]
	if c.Interrupted() {
		ws.running = false
		ws.popQueue()
		return StatusDone, c
	}
	if !ws.running || ws.adapter == nil {
		// head queued but nothing in flight (fresh boot or idle eviction)
		if err := ws.StartNextComp(); err != nil {
			ws.logf("start computation: %v", err)
		}
		return StatusWorking, c
	}

	st, err := ws.adapter.PollStatus()
	if err != nil {
		ws.logf("computation interrupted or failed, retrying: %v", err)
		ws.running = false
		if err := ws.StartNextComp(); err != nil {
			ws.logf("restart computation: %v", err)
		}
		return StatusWorking, c
	}

	out := ws.processOutput(st.Output, c)

	if !st.Done {
		if c.Introspecting() == nil {
			c.SetOutput(out, "")
			ws.previewFiles(c, st.Files)
		}
		return StatusWorking, c
	}

	ws.running = false
	ws.popQueue()

	if c.NoOutput() {
		os.RemoveAll(ws.CellDir(c))
		if st.TempDir != "" {
			os.RemoveAll(st.TempDir)
		}
		return StatusDone, c
	}

	if in := c.Introspecting(); in != nil {
		ws.finishIntrospection(c, in, out)
		if st.TempDir != "" {
			os.RemoveAll(st.TempDir)
		}
		return StatusDone, c
	}

	ws.harvestFiles(c, st.Files)
	text, full := TruncateOutput(out, ws.settings.MaxOutputBytes, ws.settings.MaxOutputLines, ws.CellDir(c), true)
	text = ShrinkTraceback(text)
	html := ""
	if full != "" {
		html = fmt.Sprintf("<a target=\"_new\" href=\"%s\" class=\"file_link\">full_output.txt</a>", full)
	}
	c.SetOutput(text, html)
	c.MarkEvaluated(ws.session)
	if st.TempDir != "" {
		os.RemoveAll(st.TempDir)
	}
	return StatusDone, c
}

// checkOrphan drains an execution whose cell was deleted mid-run. The
// output is discarded.
func (ws *Worksheet) checkOrphan() (Status, *cell.Cell) {
	if ws.adapter == nil {
		ws.orphan = nil
		ws.running = false
		return StatusWorking, nil
	}
	st, err := ws.adapter.PollStatus()
	if err != nil || st.Done {
		ws.orphan = nil
		ws.running = false
		if st.TempDir != "" {
			os.RemoveAll(st.TempDir)
		}
		if err := ws.StartNextComp(); err != nil {
			ws.logf("start after orphaned computation: %v", err)
		}
	}
	return StatusWorking, nil
}

// finishIntrospection stages the result of a doc, source or completion
// request on the cell and marks the request done.
func (ws *Worksheet) finishIntrospection(c *cell.Cell, in *cell.Introspect, out string) {
	if len(in.Before) == 0 {
		c.SetIntrospectText(out)
		return
	}
	if strings.HasSuffix(in.Before, "?") {
		// documentation or source text
		c.SetIntrospectText(out)
		return
	}
	// completion request: auto-insert the longest common extension and
	// stage the full candidate list for display
	ext := bestCompletion(out, c.WordBeingCompleted())
	c.SetChangedInput(in.Before + ext + in.After)
	c.SetCompletions(strings.Fields(out))
}

// previewFiles exposes files produced so far as symlinks into the cell
// directory, so in-progress plots can be previewed. The links are replaced
// with real copies on completion.
func (ws *Worksheet) previewFiles(c *cell.Cell, files []string) {
	if len(files) == 0 {
		return
	}
	dir := ws.CellDir(c)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ws.logf("cell %d: create cell directory: %v", c.ID(), err)
		return
	}
	for _, f := range files {
		target := filepath.Join(dir, filepath.Base(f))
		os.Remove(target)
		if err := os.Symlink(f, target); err != nil {
			ws.logf("cell %d: preview %s: %v", c.ID(), filepath.Base(f), err)
		}
	}
}

// Interrupt signals the compute process to interrupt the current
// computation. The return value reports whether the signal was delivered,
// not whether the computation stopped; that is confirmed by a later
// CheckComp. An empty queue is a successful no-op.
func (ws *Worksheet) Interrupt() bool {
	if len(ws.queue) == 0 {
		return true
	}
	if ws.adapter == nil {
		return true
	}
	return ws.adapter.Interrupt()
}
