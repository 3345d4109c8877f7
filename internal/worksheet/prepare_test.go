package worksheet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStripPromptsTranscript(t *testing.T) {
	in := "chalk: x := 2\nignored output\nchalk: println(x)\n2"
	got := StripPrompts(in)
	want := "x := 2\nprintln(x)\n"
	if got != want {
		t.Fatalf("StripPrompts = %q, want %q", got, want)
	}
}

func TestStripPromptsContinuationLines(t *testing.T) {
	in := ">>> for i := 0; i < 3; i++ {\n...     println(i)\n... }\n0\n1\n2"
	got := StripPrompts(in)
	want := "for i := 0; i < 3; i++ {\n    println(i)\n}\n"
	if got != want {
		t.Fatalf("StripPrompts = %q, want %q", got, want)
	}
}

func TestStripPromptsPassThrough(t *testing.T) {
	in := "x := 2\nprintln(x)"
	if got := StripPrompts(in); got != in {
		t.Fatalf("non-transcript input modified: %q", got)
	}
}

func TestRightmostIdentifier(t *testing.T) {
	cases := map[string]string{
		"println":           "println",
		"2 + foo":           "foo",
		"a.b.c":             "a.b.c",
		"f(x) + obj.Method": "obj.Method",
		"":                  "",
		"x + ":              "",
	}
	for in, want := range cases {
		if got := rightmostIdentifier(in); got != want {
			t.Fatalf("rightmostIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSystemSwitchWrapsNonDefaultSystem(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	c := ws.AppendNewCell()
	c.SetInput("%gap\nSymmetricGroup(5)")
	if c.System() != "gap" {
		t.Fatalf("system = %q, want gap", c.System())
	}
	got := ws.prepareInput(c.CleanedInput(), c)
	want := "//chalk:system gap\nSymmetricGroup(5)\n"
	if got != want {
		t.Fatalf("prepared = %q, want %q", got, want)
	}
}

func TestSystemSwitchBaseSystemUntouched(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	c := ws.AppendNewCell()
	c.SetInput("println(1)")
	if got := ws.prepareInput(c.CleanedInput(), c); got != "println(1)\n" {
		t.Fatalf("prepared = %q", got)
	}
}

func TestPluginSystemUsesCacheFile(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	c := ws.AppendNewCell()
	c.SetInput("%plugin\nfunc Triple(n int) int { return 3 * n }")
	c.CodeID = 7
	got := ws.prepareInput(c.CleanedInput(), c)
	if !strings.HasPrefix(got, "//chalk:plugin ") {
		t.Fatalf("prepared = %q", got)
	}
	path := strings.TrimSpace(strings.TrimPrefix(got, "//chalk:plugin "))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cache file: %v", err)
	}
	if string(data) != c.CleanedInput() {
		t.Fatalf("cache content = %q", data)
	}
	before, _ := os.Stat(path)
	// identical content reuses the file unchanged
	ws.prepareInput(c.CleanedInput(), c)
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("identical plugin source rewrote the cache file")
	}
}

func TestLoadInlinesSourceFile(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	dataDir := ws.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	util := filepath.Join(dataDir, "util.go")
	if err := os.WriteFile(util, []byte("func Double(n int) int { return 2 * n }"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := ws.resolvePseudoStatements("load util.go\nprintln(Double(4))", nil, "")
	if !strings.Contains(got, "func Double(n int) int") {
		t.Fatalf("loaded source not inlined: %q", got)
	}
	if strings.Contains(got, "load util.go") {
		t.Fatalf("load pseudo-statement left in program text: %q", got)
	}
	if !strings.Contains(got, "println(Double(4))") {
		t.Fatalf("surrounding code lost: %q", got)
	}
}

func TestLoadMissingFileReportsError(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	got := ws.resolvePseudoStatements("load nowhere.go", nil, "")
	if !strings.Contains(got, "Error loading") {
		t.Fatalf("missing file not reported: %q", got)
	}
}

func TestLoadBreaksRecursiveCycle(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	dataDir := ws.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a := filepath.Join(dataDir, "a.go")
	b := filepath.Join(dataDir, "b.go")
	os.WriteFile(a, []byte("load "+b+"\nfunc A() {}"), 0o644)
	os.WriteFile(b, []byte("load "+a+"\nfunc B() {}"), 0o644)

	got := ws.resolvePseudoStatements("load "+a, nil, "")
	if !strings.Contains(got, "would create recursive load") {
		t.Fatalf("cycle not broken: %q", got)
	}
	if !strings.Contains(got, "func A() {}") || !strings.Contains(got, "func B() {}") {
		t.Fatalf("sources lost while breaking cycle: %q", got)
	}
}

func TestSaveObjectsExpansion(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	got := ws.resolvePseudoStatements("save x, y", nil, "")
	if !strings.Contains(got, "//chalk:save x x.gob") || !strings.Contains(got, "//chalk:save y y.gob") {
		t.Fatalf("save expansion = %q", got)
	}
}

func TestAttachTracksAndDetachForgets(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	f := filepath.Join(t.TempDir(), "dep.go")
	if err := os.WriteFile(f, []byte("func Dep() {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.Attach(f)
	if _, ok := ws.AttachedFiles()[f]; !ok {
		t.Fatalf("file not tracked after attach")
	}
	ws.Detach(f)
	if _, ok := ws.AttachedFiles()[f]; ok {
		t.Fatalf("file still tracked after detach")
	}
}

func TestChangedAttachedFileReloaded(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	f := filepath.Join(t.TempDir(), "dep.go")
	if err := os.WriteFile(f, []byte("func Dep() {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.Attach(f)

	// unchanged: nothing prepended
	if got := ws.prepareNative("println(1)"); strings.Contains(got, "func Dep") {
		t.Fatalf("unchanged attachment reloaded: %q", got)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(f, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	got := ws.prepareNative("println(1)")
	if !strings.Contains(got, "func Dep() {}") {
		t.Fatalf("changed attachment not reloaded: %q", got)
	}

	// seen timestamp advanced: a second prepare is quiet again
	if got := ws.prepareNative("println(1)"); strings.Contains(got, "func Dep") {
		t.Fatalf("attachment reloaded twice for one change: %q", got)
	}
}

func TestVanishedAttachedFileDropped(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	f := filepath.Join(t.TempDir(), "dep.go")
	os.WriteFile(f, []byte("func Dep() {}"), 0o644)
	ws.Attach(f)
	os.Remove(f)
	ws.prepareNative("println(1)")
	if _, ok := ws.AttachedFiles()[f]; ok {
		t.Fatalf("vanished file still tracked")
	}
}

func TestAttachPseudoStatement(t *testing.T) {
	ws := testWorksheet(t, echoAdapter(""))
	dataDir := ws.DataDir()
	os.MkdirAll(dataDir, 0o755)
	dep := filepath.Join(dataDir, "dep.go")
	os.WriteFile(dep, []byte("func Dep() {}"), 0o644)

	got := ws.resolvePseudoStatements("attach dep.go", nil, "")
	if !strings.Contains(got, "func Dep() {}") {
		t.Fatalf("attached source not inlined: %q", got)
	}
	if len(ws.AttachedFiles()) != 1 {
		t.Fatalf("attach pseudo-statement did not track the file")
	}
}
