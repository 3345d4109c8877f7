// Package kernel implements the chalk interpreter: a yaegi-backed evaluator
// for Go snippets that understands the //chalk: control comments the
// worksheet engine injects. It backs both the in-process reference adapter
// and the cmd/chalk-kernel child process.
package kernel

import (
	"bufio"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Stream markers shared with the engine's synchronization protocol. The
// control character never appears in ordinary program output.
const (
	ControlChar = "\x01"

	// MarkerError prefixes a traceback emitted when evaluation fails.
	MarkerError = ControlChar + "r"

	// Prompt is printed after every finished batch; pty adapters use it to
	// detect completion.
	Prompt = ControlChar + "p"

	// PartSeparator splits a batch into independently evaluated parts, so
	// a failure in one part does not suppress the end marker printed by a
	// later part.
	PartSeparator = "//chalk:part"

	// EOT terminates an inline batch on the kernel's stdin.
	EOT = "\x04"

	// BatchFile is the one-line command instructing a kernel child to
	// evaluate the contents of the named file as a batch. Pty adapters use
	// it so program text never passes through the terminal line discipline,
	// which would eat control bytes and echo the input back.
	BatchFile = "//chalk:batchfile"
)

// Traceback is the marker the engine looks for to recognize a runtime
// failure in process output.
const Traceback = "Traceback (most recent call last):"

// Kernel evaluates batches of Go snippets while keeping interpreter state
// alive between them.
type Kernel struct {
	out io.Writer

	interp *interp.Interpreter

	// cancelEval aborts the evaluation in flight; set for the duration of
	// a RunBatch call.
	mu         sync.Mutex
	cancelEval context.CancelFunc

	cellID  int
	workdir string

	// declared name -> source text of the part that declared it, for the
	// ?? source query.
	sources map[string]string

	systems map[string]SystemEval
}

// SystemEval evaluates a snippet under an alternate execution system, e.g.
// a shell. It returns the output to print.
type SystemEval func(src, dir string) (string, error)

// New builds a kernel writing all evaluation output to out.
func New(out io.Writer) *Kernel {
	k := &Kernel{
		out:     out,
		sources: make(map[string]string),
		systems: make(map[string]SystemEval),
	}
	k.reset()
	return k
}

func (k *Kernel) reset() {
	i := interp.New(interp.Options{Stdout: k.out, Stderr: k.out})
	i.Use(stdlib.Symbols)
	k.interp = i
	k.sources = make(map[string]string)
}

// RegisterSystem installs a named alternate execution system.
func (k *Kernel) RegisterSystem(name string, eval SystemEval) {
	k.systems[name] = eval
}

// Reset discards all interpreter state, as after a process restart.
func (k *Kernel) Reset() { k.reset() }

// CellID returns the id of the cell the current batch came from.
func (k *Kernel) CellID() int { return k.cellID }

// RunBatch evaluates one batch of program text. Parts separated by the
// part separator are evaluated independently: an error in one part prints
// an error marker and a traceback, then evaluation continues with the next
// part so trailing end markers still print.
func (k *Kernel) RunBatch(text string) {
	ctx := k.beginBatch()
	defer k.endBatch()
	for _, part := range splitParts(text) {
		k.runPart(ctx, part)
	}
}

func (k *Kernel) beginBatch() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	k.mu.Lock()
	k.cancelEval = cancel
	k.mu.Unlock()
	return ctx
}

func (k *Kernel) endBatch() {
	k.mu.Lock()
	if k.cancelEval != nil {
		k.cancelEval()
		k.cancelEval = nil
	}
	k.mu.Unlock()
}

// Interrupt aborts the evaluation in flight, if any. The session survives:
// the aborted batch reports a traceback and the next batch evaluates
// normally. Safe to call from a signal handler goroutine.
func (k *Kernel) Interrupt() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancelEval != nil {
		k.cancelEval()
	}
}

// Serve reads batches from r and evaluates them, printing the prompt on
// startup and after every batch. Two framings are accepted: a one-line
// batchfile command naming a file to evaluate (what the pty adapter sends),
// and inline text terminated by an EOT line for piped stdin.
func (k *Kernel) Serve(r io.Reader) {
	fmt.Fprint(k.out, Prompt)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var batch []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if rest, ok := strings.CutPrefix(line, BatchFile+" "); ok && len(batch) == 0 {
			data, err := os.ReadFile(strings.TrimSpace(rest))
			if err != nil {
				fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
			} else {
				k.RunBatch(string(data))
			}
			fmt.Fprint(k.out, Prompt)
			continue
		}
		if line == EOT {
			k.RunBatch(strings.Join(batch, "\n"))
			batch = batch[:0]
			fmt.Fprint(k.out, Prompt)
			continue
		}
		batch = append(batch, line)
	}
	if len(batch) > 0 {
		k.RunBatch(strings.Join(batch, "\n"))
		fmt.Fprint(k.out, Prompt)
	}
}

func splitParts(text string) []string {
	var parts []string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == PartSeparator {
			parts = append(parts, strings.Join(cur, "\n"))
			cur = cur[:0]
			continue
		}
		cur = append(cur, line)
	}
	return append(parts, strings.Join(cur, "\n"))
}

func (k *Kernel) runPart(ctx context.Context, src string) {
	body, ctl := splitControls(src)
	for _, c := range ctl {
		if c.name == "system" {
			k.RunSystem(c.arg, body)
			return
		}
		if done := k.handleControl(c); done {
			return
		}
	}
	if strings.TrimSpace(body) == "" {
		return
	}

	var start time.Time
	timed := false
	for _, c := range ctl {
		if c.name == "time" {
			timed = true
			start = time.Now()
		}
	}

	prev, chdirErr := k.pushWorkdir()
	k.evalBody(ctx, body)
	if chdirErr == nil {
		os.Chdir(prev)
	}
	if timed {
		el := time.Since(start).Seconds()
		fmt.Fprintf(k.out, "CPU time: %.2f s,  Wall time: %.2f s\n", el, el)
	}
}

// pushWorkdir moves the process into the batch working area so files the
// snippet writes with relative paths land there.
func (k *Kernel) pushWorkdir() (string, error) {
	if k.workdir == "" {
		return "", fmt.Errorf("kernel: no workdir")
	}
	prev, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if err := os.Chdir(k.workdir); err != nil {
		return "", err
	}
	return prev, nil
}

// evalBody evaluates program text segment by segment, splitting at control
// comment lines embedded mid-body (object loads, saves). Segments run in
// order; an evaluation error prints a traceback and abandons the rest of
// the body.
func (k *Kernel) evalBody(ctx context.Context, body string) {
	var code []string
	flush := func() bool {
		seg := strings.Join(code, "\n")
		code = code[:0]
		if strings.TrimSpace(seg) == "" {
			return true
		}
		k.recordSources(seg)
		if _, err := k.interp.EvalWithContext(ctx, seg); err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
			return false
		}
		return true
	}
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "//chalk:") {
			if !flush() {
				return
			}
			rest := strings.TrimPrefix(t, "//chalk:")
			name, arg, _ := strings.Cut(rest, " ")
			k.handleControl(control{name: name, arg: arg})
			continue
		}
		code = append(code, line)
	}
	flush()
}

type control struct {
	name string
	arg  string
}

// splitControls strips leading //chalk: control comments off a part.
func splitControls(src string) (body string, ctl []control) {
	lines := strings.Split(src, "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "//chalk:") {
			break
		}
		rest := strings.TrimPrefix(line, "//chalk:")
		name, arg, _ := strings.Cut(rest, " ")
		ctl = append(ctl, control{name: name, arg: arg})
	}
	return strings.Join(lines[i:], "\n"), ctl
}

// handleControl executes one control command. It returns true when the
// command consumes the whole part (queries print their result directly).
func (k *Kernel) handleControl(c control) bool {
	switch c.name {
	case "cell":
		if n, err := strconv.Atoi(c.arg); err == nil {
			k.cellID = n
		}
	case "cd":
		k.workdir = c.arg
	case "time":
		// handled in runPart
	case "doc":
		fmt.Fprintln(k.out, k.docFor(c.arg))
		return true
	case "source":
		fmt.Fprintln(k.out, k.sourceFor(c.arg))
		return true
	case "complete":
		for _, w := range k.completionsFor(c.arg) {
			fmt.Fprintln(k.out, w)
		}
		return true
	case "plugin":
		// compile-and-import of a cached extension source file
		src, err := os.ReadFile(c.arg)
		if err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
			return true
		}
		k.recordSources(string(src))
		if _, err := k.interp.Eval(string(src)); err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
		}
		return true
	case "object":
		// bind a saved object file (a Go literal) to the given name
		name, path, _ := strings.Cut(c.arg, " ")
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
			return false
		}
		src := fmt.Sprintf("%s := %s", name, strings.TrimSpace(string(data)))
		if _, err := k.interp.Eval(src); err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
		}
	case "save":
		name, path, _ := strings.Cut(c.arg, " ")
		if k.workdir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(k.workdir, path)
		}
		v, err := k.interp.Eval(name)
		if err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
			return false
		}
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%#v\n", v)), 0o644); err != nil {
			fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
		}
	}
	return false
}

// RunSystem evaluates src under the named alternate system and prints the
// result, mirroring the engine's "evaluate under system X" wrapping.
func (k *Kernel) RunSystem(name, src string) {
	eval, ok := k.systems[name]
	if !ok {
		fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\nunknown system %q\n", MarkerError, Traceback, name)
		return
	}
	out, err := eval(src, k.workdir)
	if err != nil {
		fmt.Fprintf(k.out, "%s%s\n  <chalk eval>\n%s\n", MarkerError, Traceback, err)
		return
	}
	fmt.Fprint(k.out, out)
}

// recordSources remembers the source text of top-level declarations so the
// ?? query can show them later.
func (k *Kernel) recordSources(body string) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", "package main\n"+body, 0)
	if err != nil {
		return
	}
	for _, d := range f.Decls {
		switch decl := d.(type) {
		case *ast.FuncDecl:
			k.sources[decl.Name.Name] = body
		case *ast.GenDecl:
			for _, spec := range decl.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					k.sources[s.Name.Name] = body
				case *ast.ValueSpec:
					for _, n := range s.Names {
						k.sources[n.Name] = body
					}
				}
			}
		}
	}
	// short variable declarations at top level are statements, not decls;
	// catch them with a cheap scan
	for _, line := range strings.Split(body, "\n") {
		if name, _, ok := strings.Cut(strings.TrimSpace(line), ":="); ok {
			name = strings.TrimSpace(name)
			if isIdentifier(name) {
				k.sources[name] = body
			}
		}
	}
}

func (k *Kernel) docFor(name string) string {
	if doc, ok := builtinDocs[name]; ok {
		return doc
	}
	if v, err := k.interp.Eval(name); err == nil && v.IsValid() {
		return fmt.Sprintf("%s: %s", name, v.Type())
	}
	return fmt.Sprintf("no documentation found for %q", name)
}

func (k *Kernel) sourceFor(name string) string {
	if src, ok := k.sources[name]; ok {
		return src
	}
	return fmt.Sprintf("no source available for %q", name)
}

func (k *Kernel) completionsFor(prefix string) []string {
	if prefix == "" {
		return nil
	}
	seen := make(map[string]bool)
	var words []string
	add := func(w string) {
		if strings.HasPrefix(w, prefix) && !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	for name := range k.sources {
		add(name)
	}
	for name := range builtinDocs {
		add(name)
	}
	sort.Strings(words)
	return words
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// builtinDocs covers the names a fresh interpreter session knows about.
var builtinDocs = map[string]string{
	"println": "println(args ...Type) -- print arguments followed by a newline",
	"print":   "print(args ...Type) -- print arguments",
	"len":     "len(v Type) int -- the length of v",
	"cap":     "cap(v Type) int -- the capacity of v",
	"append":  "append(slice []Type, elems ...Type) []Type -- append elements to a slice",
	"make":    "make(t Type, size ...IntegerType) Type -- allocate and initialize",
	"new":     "new(Type) *Type -- allocate a zeroed value",
	"copy":    "copy(dst, src []Type) int -- copy elements between slices",
	"delete":  "delete(m map[Type]Type1, key Type) -- delete an element from a map",
	"panic":   "panic(v interface{}) -- stop normal execution",
	"recover": "recover() interface{} -- regain control of a panicking goroutine",
}
