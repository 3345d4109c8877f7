// Package cell defines the input/output unit of a worksheet: its identity,
// version, directive list and evaluation state. Cells never hold a reference
// back to their worksheet; they carry only their own id and are always
// manipulated through worksheet-scoped operations.
package cell

import (
	"fmt"
	"strings"
)

// DisplayMode controls how a cell's output is presented by a client.
type DisplayMode string

const (
	DisplayWrap   DisplayMode = "wrap"
	DisplayNowrap DisplayMode = "nowrap"
	DisplayHidden DisplayMode = "hidden"
)

// IntrospectionStatus tracks the two-phase lifecycle of a documentation,
// source or completion request.
type IntrospectionStatus string

const (
	IntrospectNone    IntrospectionStatus = ""
	IntrospectWorking IntrospectionStatus = "working"
	IntrospectDone    IntrospectionStatus = "done"
)

// Introspect holds the cursor-adjacent text of an introspection request:
// everything typed before the cursor and everything after it.
type Introspect struct {
	Before string
	After  string
}

// File is one artifact harvested from the compute process into the cell's
// directory, classified by how a client should render it.
type File struct {
	Name  string
	Class FileClass
}

// FileClass enumerates renderable categories for harvested files.
type FileClass string

const (
	FileImage    FileClass = "image"    // inline image
	FileScene3D  FileClass = "scene3d"  // embeddable 3-D scene description
	FileLink     FileClass = "link"     // generic downloadable file
	FileIgnored  FileClass = "ignored"  // companion data, not shown
)

// Cell is a single compute cell. The zero value is not usable; construct
// cells with New.
type Cell struct {
	id int

	in      string
	cleaned string

	directives []string
	system     string

	out     string
	outHTML string

	version     int
	evalSession string
	interrupted bool

	asap     bool
	noOutput bool
	display  DisplayMode

	introspect    *Introspect
	introStatus   IntrospectionStatus
	introText     string
	completions   []string
	completing    string
	changedInput  string
	hasChanged    bool

	// CodeID correlates the cell with the program text most recently sent
	// to the compute process. Assigned fresh by the scheduler on each
	// submission.
	CodeID int

	produced []File
}

// New creates a cell with the given id and raw input. Directive parsing
// happens immediately, so CleanedInput and System are valid right away.
func New(id int, input string) *Cell {
	c := &Cell{id: id, display: DisplayWrap}
	c.directives, c.system, c.cleaned = ParseDirectives(input)
	c.in = input
	return c
}

func (c *Cell) String() string {
	return fmt.Sprintf("Cell %d; in=%s, out=%s", c.id, c.in, c.out)
}

// ID returns the cell's id. Normal cells have non-negative ids; hidden
// as-soon-as-possible cells are numbered negatively.
func (c *Cell) ID() int { return c.id }

// Input returns the raw input text, directives included.
func (c *Cell) Input() string { return c.in }

// CleanedInput returns the input with leading directive lines stripped.
func (c *Cell) CleanedInput() string { return c.cleaned }

// Directives returns the ordered directive tokens found at the top of the
// input. Duplicates are kept.
func (c *Cell) Directives() []string { return c.directives }

// System returns the execution system selected by a directive, or "" when
// the cell should run under the worksheet default.
func (c *Cell) System() string { return c.system }

// Version returns the input version. It increases by exactly one per input
// mutation and never on output-only updates.
func (c *Cell) Version() int { return c.version }

// SetInput replaces the input text. The version is bumped, the evaluated
// and interrupted flags are cleared, and directives are reparsed.
func (c *Cell) SetInput(input string) {
	c.version++
	c.evalSession = ""
	c.interrupted = false
	c.in = input
	c.directives, c.system, c.cleaned = ParseDirectives(input)
}

// SetChangedInput stages a non-committing edit to the input, typically the
// insertion of a computed completion. The version is deliberately not
// bumped and the directive parse is left alone.
func (c *Cell) SetChangedInput(input string) {
	c.in = input
	c.changedInput = input
	c.hasChanged = true
}

// ChangedInput returns the staged edit, if any, and clears it.
func (c *Cell) ChangedInput() (string, bool) {
	if !c.hasChanged {
		return "", false
	}
	c.hasChanged = false
	t := c.changedInput
	c.changedInput = ""
	return t, true
}

// Output returns the result text.
func (c *Cell) Output() string { return c.out }

// OutputHTML returns the rendered-result fragment, e.g. references to
// harvested image files.
func (c *Cell) OutputHTML() string { return c.outHTML }

// SetOutput records result text and rendered fragment. It is an
// output-only update: the version does not change.
func (c *Cell) SetOutput(out, html string) {
	c.out = strings.ReplaceAll(out, "\r", "")
	c.outHTML = html
}

// DeleteOutput clears all output state, harvested files included.
func (c *Cell) DeleteOutput() {
	c.out = ""
	c.outHTML = ""
	c.evalSession = ""
	c.produced = nil
}

// MarkEvaluated records that evaluation completed under the given process
// session token.
func (c *Cell) MarkEvaluated(session string) {
	c.evalSession = session
	c.interrupted = false
}

// Evaluated reports whether the cell was evaluated in the given process
// session. Output produced under an earlier session does not count.
func (c *Cell) Evaluated(session string) bool {
	return session != "" && c.evalSession == session
}

// Interrupt flags the cell as interrupted. The flag is cleared by the next
// successful evaluation or input edit.
func (c *Cell) Interrupt() { c.interrupted = true }

// Interrupted reports whether the cell was interrupted since it was queued.
func (c *Cell) Interrupted() bool { return c.interrupted }

// SetAsap marks the cell for priority scheduling ahead of normally queued
// cells.
func (c *Cell) SetAsap(asap bool) { c.asap = asap }

// Asap reports whether the cell is scheduled as soon as possible.
func (c *Cell) Asap() bool { return c.asap }

// SetNoOutput marks the cell as producing no user-visible output; its cell
// directory is discarded when the computation finishes.
func (c *Cell) SetNoOutput(v bool) { c.noOutput = v }

// NoOutput reports whether output for this cell is discarded.
func (c *Cell) NoOutput() bool { return c.noOutput }

// SetDisplayMode sets how output is presented. Unknown values fall back to
// wrapped display.
func (c *Cell) SetDisplayMode(m DisplayMode) {
	switch m {
	case DisplayWrap, DisplayNowrap, DisplayHidden:
		c.display = m
	default:
		c.display = DisplayWrap
	}
}

// DisplayMode returns the output display mode.
func (c *Cell) DisplayMode() DisplayMode { return c.display }

// AutoCell reports whether the cell carries the auto directive and should
// be evaluated automatically when a fresh process session boots.
func (c *Cell) AutoCell() bool {
	for _, d := range c.directives {
		if d == "auto" {
			return true
		}
	}
	return false
}

// HasDirective reports whether the named directive appears on the cell.
func (c *Cell) HasDirective(name string) bool {
	for _, d := range c.directives {
		if d == name {
			return true
		}
	}
	return false
}

// Timed reports whether a timing directive is present.
func (c *Cell) Timed() bool {
	return c.HasDirective("time") || c.HasDirective("timeit")
}

// SetIntrospect begins an introspection request for the given
// before/after-cursor text and moves the status to working.
func (c *Cell) SetIntrospect(before, after string) {
	c.introspect = &Introspect{Before: before, After: after}
	c.introStatus = IntrospectWorking
	c.introText = ""
	c.completions = nil
}

// Introspecting returns the pending introspection request, or nil.
func (c *Cell) Introspecting() *Introspect { return c.introspect }

// UnsetIntrospect abandons any introspection state.
func (c *Cell) UnsetIntrospect() {
	c.introspect = nil
	c.introStatus = IntrospectNone
	c.completing = ""
}

// IntrospectionStatus returns none, working or done.
func (c *Cell) IntrospectionStatus() IntrospectionStatus { return c.introStatus }

// SetIntrospectText stages documentation or source text as the
// introspection display content and marks the request done.
func (c *Cell) SetIntrospectText(text string) {
	c.introText = text
	c.introStatus = IntrospectDone
}

// IntrospectText returns the staged doc/source display content.
func (c *Cell) IntrospectText() string { return c.introText }

// SetCompletions stages the candidate list of a completion request and
// marks the request done.
func (c *Cell) SetCompletions(words []string) {
	c.completions = words
	c.introStatus = IntrospectDone
}

// Completions returns the staged candidate completions.
func (c *Cell) Completions() []string { return c.completions }

// SetWordBeingCompleted remembers the identifier fragment a completion
// request was built for, so results can be merged back into the input.
func (c *Cell) SetWordBeingCompleted(w string) { c.completing = w }

// WordBeingCompleted returns the remembered identifier fragment.
func (c *Cell) WordBeingCompleted() string { return c.completing }

// SetProduced records the files harvested for this cell.
func (c *Cell) SetProduced(files []File) { c.produced = files }

// Produced returns the files harvested for this cell.
func (c *Cell) Produced() []File { return c.produced }
