package worksheet

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mhalloran/chalk/internal/process"
)

func TestEvaluateCellLifecycle(t *testing.T) {
	adapter := echoAdapter("5\n")
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println(2 + 3)")
	if err := ws.Enqueue(c); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	status, got := ws.CheckComp()
	if status != StatusDone || got != c {
		t.Fatalf("check = %v, %v; want done with the submitted cell", status, got)
	}
	if c.Output() != "5" {
		t.Fatalf("output = %q, want %q", c.Output(), "5")
	}
	if !c.Evaluated(ws.Session()) {
		t.Fatalf("cell not marked evaluated in the current session")
	}
	if status, _ := ws.CheckComp(); status != StatusEmpty {
		t.Fatalf("queue not drained: %v", status)
	}
}

func TestEvaluatedFlagScopedToSession(t *testing.T) {
	adapter := echoAdapter("ok\n")
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println(1)")
	ws.Enqueue(c)
	ws.CheckComp()
	old := ws.Session()
	if !c.Evaluated(old) {
		t.Fatalf("cell not evaluated in producing session")
	}

	if err := ws.RestartProcess(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if ws.Session() == old {
		t.Fatalf("session token unchanged across restart")
	}
	if c.Evaluated(ws.Session()) {
		t.Fatalf("evaluated flag survived a process restart")
	}
}

func TestSpeculativeOutputWhileWorking(t *testing.T) {
	adapter := newScriptedAdapter(func(string) string { return "partial\n" })
	adapter.workingTicks = 2
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println(1)")
	ws.Enqueue(c)

	if status, _ := ws.CheckComp(); status != StatusWorking {
		t.Fatalf("first poll: %v, want working", status)
	}
	if !strings.Contains(c.Output(), "partial") {
		t.Fatalf("speculative output not shown: %q", c.Output())
	}
	ws.CheckComp()
	if status, _ := ws.CheckComp(); status != StatusDone {
		t.Fatalf("final poll not done")
	}
}

func TestSyntaxErrorPopsCellWithoutProcess(t *testing.T) {
	adapter := echoAdapter("")
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("x := (")
	if err := ws.Enqueue(c); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.HasPrefix(c.Output(), "Syntax Error:") {
		t.Fatalf("output = %q, want a syntax error", c.Output())
	}
	if len(ws.Queue()) != 0 {
		t.Fatalf("cell with syntax error still queued")
	}
	if len(adapter.executed) != 0 {
		t.Fatalf("process contacted for a syntax error")
	}
}

func TestSyntaxErrorDoesNotCascade(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	bad := ws.AppendNewCell()
	bad.SetInput("x := (")
	next := ws.AppendNewCell()
	next.SetInput("println(1)")
	ws.queue = append(ws.queue, bad, next)

	ws.StartNextComp()
	// only the bad head is popped; the next cell waits for the next tick
	if ids := ws.QueueIDs(); len(ids) != 1 || ids[0] != next.ID() {
		t.Fatalf("queue = %v, want [%d]", ids, next.ID())
	}
	if ws.Computing() {
		t.Fatalf("nothing should be running after a syntax error")
	}
}

func TestAdapterFailureRetriesSameCell(t *testing.T) {
	adapter := stuckAdapter()
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println(1)")
	ws.Enqueue(c)

	adapter.pollErrs = []error{errors.New("process died")}
	status, got := ws.CheckComp()
	if status != StatusWorking || got != c {
		t.Fatalf("failure poll = %v, %v; want working with same cell", status, got)
	}
	if len(adapter.executed) != 2 {
		t.Fatalf("executions = %d, want a resubmission after failure", len(adapter.executed))
	}
	if ids := ws.QueueIDs(); len(ids) != 1 || ids[0] != c.ID() {
		t.Fatalf("cell lost on adapter failure: %v", ids)
	}
}

func TestInterruptedHeadPoppedWithoutPolling(t *testing.T) {
	adapter := stuckAdapter()
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println(1)")
	ws.Enqueue(c)
	executed := len(adapter.executed)

	c.Interrupt()
	status, got := ws.CheckComp()
	if status != StatusDone || got != c {
		t.Fatalf("check = %v, %v; want done with interrupted cell", status, got)
	}
	if len(ws.Queue()) != 0 {
		t.Fatalf("interrupted cell still queued")
	}
	if len(adapter.executed) != executed {
		t.Fatalf("process contacted for an interrupted head")
	}
}

func TestRestartPseudoInput(t *testing.T) {
	spawned := 0
	ws := New("test", t.TempDir(), Settings{
		NewAdapter: func() process.Adapter {
			spawned++
			return echoAdapter("")
		},
	})
	c := ws.AppendNewCell()
	c.SetInput("restart")
	if err := ws.Enqueue(c); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if c.Output() != "Exited chalk process" {
		t.Fatalf("output = %q", c.Output())
	}
	if len(ws.Queue()) != 0 {
		t.Fatalf("restart cell still queued")
	}
	if spawned != 1 {
		t.Fatalf("spawned = %d, want a fresh process", spawned)
	}
}

func TestAutoCellsEnqueuedOnBoot(t *testing.T) {
	ws := testWorksheet(t, stuckAdapter())
	auto := ws.AppendNewCell()
	auto.SetInput("%auto\nprintln(1)")
	c := ws.AppendNewCell()
	c.SetInput("println(2)")

	ws.Enqueue(c)
	ids := ws.QueueIDs()
	if len(ids) != 2 || ids[0] != c.ID() || ids[1] != auto.ID() {
		t.Fatalf("queue = %v, want [%d %d]", ids, c.ID(), auto.ID())
	}
}

func TestEvalAsapNoOutput(t *testing.T) {
	adapter := echoAdapter("bootstrap noise\n")
	ws := testWorksheet(t, adapter)
	if err := ws.EvalAsapNoOutput("println(1)"); err != nil {
		t.Fatalf("eval asap: %v", err)
	}
	status, c := ws.CheckComp()
	if status != StatusDone {
		t.Fatalf("status = %v, want done", status)
	}
	if c.ID() >= 0 {
		t.Fatalf("hidden cell id = %d, want negative", c.ID())
	}
	if c.Output() != "" {
		t.Fatalf("no-output cell kept output %q", c.Output())
	}
	if _, err := os.Stat(ws.CellDir(c)); !os.IsNotExist(err) {
		t.Fatalf("no-output cell directory not cleaned up")
	}
}

func TestIntrospectionCompletionStagesInput(t *testing.T) {
	adapter := echoAdapter("foo forth\n")
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("fo")
	v := c.Version()
	c.SetIntrospect("fo", "")
	ws.Enqueue(c)

	status, _ := ws.CheckComp()
	if status != StatusDone {
		t.Fatalf("status = %v, want done", status)
	}
	if c.IntrospectionStatus() != "done" {
		t.Fatalf("introspection status = %q, want done", c.IntrospectionStatus())
	}
	words := c.Completions()
	if len(words) != 2 || words[0] != "foo" || words[1] != "forth" {
		t.Fatalf("completions = %v", words)
	}
	// foo and forth disagree right after "fo": nothing to auto-insert
	if staged, ok := c.ChangedInput(); !ok || staged != "fo" {
		t.Fatalf("staged input = %q, %v", staged, ok)
	}
	if c.Version() != v {
		t.Fatalf("completion staging bumped the version")
	}
}

func TestIntrospectionCompletionInsertsCommonPrefix(t *testing.T) {
	adapter := echoAdapter("forall forget format fortran\n")
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("fo")
	c.SetIntrospect("fo", "")
	ws.Enqueue(c)
	ws.CheckComp()
	if staged, ok := c.ChangedInput(); !ok || staged != "for" {
		t.Fatalf("staged input = %q, %v; want the shared extension inserted", staged, ok)
	}
}

func TestIntrospectionSurvivesPreMarkerFailure(t *testing.T) {
	ws := testWorksheet(t, &tracebackAdapter{})
	c := ws.AppendNewCell()
	c.SetInput("fo")
	c.SetIntrospect("fo", "")
	if err := ws.Enqueue(c); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	status, got := ws.CheckComp()
	if status != StatusDone || got != c {
		t.Fatalf("check = %v, %v; want done with the introspecting cell", status, got)
	}
	if c.IntrospectionStatus() != "done" {
		t.Fatalf("introspection status = %q, want done", c.IntrospectionStatus())
	}
	// traceback text offers no extension of "fo"; the input stays put
	if staged, ok := c.ChangedInput(); !ok || staged != "fo" {
		t.Fatalf("staged input = %q, %v", staged, ok)
	}
}

func TestTrailingQuestionMarkTriggersDocQuery(t *testing.T) {
	adapter := echoAdapter("println prints its arguments\n")
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println?")
	ws.Enqueue(c)

	if len(adapter.executed) != 1 {
		t.Fatalf("executions = %d", len(adapter.executed))
	}
	_, _, body := splitFrame(adapter.executed[0])
	if !strings.Contains(body, "//chalk:doc println") {
		t.Fatalf("submitted body = %q, want a doc query", body)
	}
	status, _ := ws.CheckComp()
	if status != StatusDone {
		t.Fatalf("status = %v", status)
	}
	if !strings.Contains(c.IntrospectText(), "prints its arguments") {
		t.Fatalf("introspect text = %q", c.IntrospectText())
	}
}

func TestHarvestReplacesPreviewSymlink(t *testing.T) {
	work := t.TempDir()
	plot := filepath.Join(work, "plot.png")
	if err := os.WriteFile(plot, []byte("image-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	adapter := newScriptedAdapter(func(string) string { return "done\n" })
	adapter.workingTicks = 1
	adapter.files = []string{plot}
	ws := testWorksheet(t, adapter)
	c := ws.AppendNewCell()
	c.SetInput("println(1)")
	ws.Enqueue(c)

	// mid-run: the produced file is previewed as a symlink
	if status, _ := ws.CheckComp(); status != StatusWorking {
		t.Fatalf("expected working poll")
	}
	link := filepath.Join(ws.CellDir(c), "plot.png")
	if info, err := os.Lstat(link); err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected preview symlink at %s", link)
	}

	if status, _ := ws.CheckComp(); status != StatusDone {
		t.Fatalf("expected completion")
	}
	info, err := os.Lstat(link)
	if err != nil {
		t.Fatalf("harvested file missing: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatalf("harvest left a symlink instead of a copy")
	}
	data, _ := os.ReadFile(link)
	if string(data) != "image-bytes" {
		t.Fatalf("harvested content = %q", data)
	}
	files := c.Produced()
	if len(files) != 1 || files[0].Name != "plot.png" || files[0].Class != "image" {
		t.Fatalf("produced = %v", files)
	}
}
