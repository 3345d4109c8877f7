package worksheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mhalloran/chalk/internal/cell"
)

// prepareInput rewrites cleaned cell input into the exact program text sent
// to the process: an introspection query, a system-switching wrapper, or
// preprocessed native code.
func (ws *Worksheet) prepareInput(src string, c *cell.Cell) string {
	if in := c.Introspecting(); in != nil {
		return ws.prepareIntrospection(in, c) + "\n"
	}
	switched, out := ws.systemSwitch(src, c)
	if !switched {
		out = ws.prepareNative(out)
	}
	return out + "\n"
}

// prepareIntrospection builds the query command for a doc, source or
// completion request. The cursor may sit inside a trailing question-mark
// run; characters after it up to the next break are folded into the
// before-cursor text first.
func (ws *Worksheet) prepareIntrospection(in *cell.Introspect, c *cell.Cell) string {
	before, after := in.Before, in.After
	for i := 0; i < len(after); i++ {
		ch := after[i]
		if ch == '?' {
			if i+1 < len(after) && after[i+1] == '?' {
				i++
			}
			before += after[:i+1]
			after = after[i+1:]
			c.SetIntrospect(before, after)
			break
		}
		if ch == '"' || ch == '\'' || ch == ' ' || ch == '\t' || ch == '\n' {
			break
		}
	}
	switch {
	case strings.HasSuffix(before, "??"):
		return "//chalk:source " + rightmostIdentifier(before[:len(before)-2])
	case strings.HasSuffix(before, "?"):
		return "//chalk:doc " + rightmostIdentifier(before[:len(before)-1])
	default:
		word := rightmostIdentifier(before)
		c.SetWordBeingCompleted(word)
		return "//chalk:complete " + word
	}
}

// rightmostIdentifier returns the longest identifier (dotted selectors
// included) ending at the end of s.
func rightmostIdentifier(s string) string {
	i := len(s)
	for i > 0 {
		ch := s[i-1]
		switch {
		case ch == '_' || ch == '.',
			ch >= 'a' && ch <= 'z',
			ch >= 'A' && ch <= 'Z',
			ch >= '0' && ch <= '9':
			i--
		default:
			return s[i:]
		}
	}
	return s[i:]
}

// systemSwitch wraps the input for cells whose resolved system is not the
// base engine. The plugin system compiles-and-imports through a cache file;
// any other system name becomes an evaluate-under-X command.
func (ws *Worksheet) systemSwitch(src string, c *cell.Cell) (bool, string) {
	system := ws.cellSystem(c)
	switch system {
	case BaseSystem:
		return false, src
	case "plugin":
		return true, ws.pluginImport(src, c)
	default:
		return true, "//chalk:system " + system + "\n" + src
	}
}

// pluginImport writes the cell source to a cache file under the worksheet's
// code directory and wraps it in a compile-and-import command. An existing
// cache file with identical content is reused unchanged, so the kernel can
// skip recompilation.
func (ws *Worksheet) pluginImport(src string, c *cell.Cell) string {
	dir := ws.codeDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ws.logf("plugin cache: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("chalk%d.go", c.CodeID))
	if old, err := os.ReadFile(path); err != nil || string(old) != src {
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			ws.logf("plugin cache %s: %v", filepath.Base(path), err)
		}
	}
	return "//chalk:plugin " + path
}

// prepareNative preprocesses input bound for the base engine.
func (ws *Worksheet) prepareNative(src string) string {
	src = strings.TrimRight(StripPrompts(src), " \t\n")
	if ws.settings.Preprocess != nil {
		src = ws.settings.Preprocess(src)
	}
	src = ws.reloadChangedAttached(src)
	return ws.resolvePseudoStatements(src, nil, "")
}

// StripPrompts handles input pasted from an interactive transcript: if the
// first line begins with a session prompt, every non-prompt line is dropped
// and the prompts are stripped from what remains. Input that does not look
// like a transcript passes through untouched.
func StripPrompts(src string) string {
	s := strings.TrimLeft(src, " \t\n")
	if !strings.HasPrefix(s, "chalk:") && !strings.HasPrefix(s, ">>>") {
		return src
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(line, "chalk:"):
			b.WriteString(strings.TrimLeft(line[len("chalk:"):], " "))
			b.WriteByte('\n')
		case strings.HasPrefix(line, ">>>"):
			b.WriteString(strings.TrimLeft(line[len(">>>"):], " "))
			b.WriteByte('\n')
		case strings.HasPrefix(line, "..."):
			b.WriteString(strings.TrimPrefix(line[len("..."):], " "))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

//
// Loading and attaching files
//

// Attach starts tracking a file: it is reloaded before the next execution
// whenever it changes on disk.
func (ws *Worksheet) Attach(filename string) {
	info, err := os.Stat(filename)
	if err != nil {
		ws.logf("attach %s: file vanished", filename)
		return
	}
	ws.attached[filename] = info.ModTime()
	if ws.watcher != nil {
		ws.watcher.watch(filename)
	}
}

// Detach stops tracking a file.
func (ws *Worksheet) Detach(filename string) {
	delete(ws.attached, filename)
	if ws.watcher != nil {
		ws.watcher.unwatch(filename)
	}
}

// AttachedFiles returns a snapshot of the tracked files and their last-seen
// modification times.
func (ws *Worksheet) AttachedFiles() map[string]time.Time {
	m := make(map[string]time.Time, len(ws.attached))
	for f, t := range ws.attached {
		m[f] = t
	}
	return m
}

// reloadChangedAttached prepends load statements for attached files that
// changed since they were last seen. Change detection uses the filesystem
// watcher when available, with a modification-time comparison as the
// fallback; vanished files are dropped from tracking.
func (ws *Worksheet) reloadChangedAttached(src string) string {
	dirty := make(map[string]bool)
	if ws.watcher != nil {
		for _, f := range ws.watcher.drain() {
			dirty[f] = true
		}
	}
	for f, seen := range ws.attached {
		info, err := os.Stat(f)
		if err != nil {
			delete(ws.attached, f)
			continue
		}
		if dirty[f] || info.ModTime().After(seen) {
			ws.attached[f] = info.ModTime()
			src = "load " + f + "\n" + src
		}
	}
	return src
}

// resolvePseudoStatements rewrites load/attach/detach/save pseudo-statement
// lines into real program text, inlining loaded sources and tracking the
// chain of files seen so far to break recursive loads.
func (ws *Worksheet) resolvePseudoStatements(src string, seen []string, thisFile string) string {
	var out []string
	for _, line := range strings.Split(src, "\n") {
		switch {
		case strings.HasPrefix(line, "load "):
			var z []string
			for _, f := range ws.normalizedFilenames(afterFirstWord(line)) {
				z = append(z, ws.loadFile(ws.huntFile(f), seen, thisFile))
			}
			out = append(out, z...)
		case strings.HasPrefix(line, "attach "):
			var z []string
			for _, f := range ws.normalizedFilenames(afterFirstWord(line)) {
				f = ws.huntFile(f)
				if _, err := os.Stat(f); err != nil {
					z = append(z, fmt.Sprintf("println(%q)", "Error attaching "+f+" -- file not found"))
					continue
				}
				ws.Attach(f)
				z = append(z, ws.loadFile(f, seen, thisFile))
			}
			out = append(out, z...)
		case strings.HasPrefix(line, "detach "):
			for _, f := range ws.normalizedFilenames(afterFirstWord(line)) {
				ws.Detach(ws.huntFile(f))
			}
		case strings.HasPrefix(line, "save "):
			out = append(out, ws.saveObjects(afterFirstWord(line)))
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// loadFile turns one resolved filename into program text: object files
// become a load command, source files are inlined (and recursively
// resolved), anything else is an error message.
func (ws *Worksheet) loadFile(filename string, seen []string, thisFile string) string {
	if strings.HasSuffix(filename, ".gob") {
		name := strings.TrimSuffix(filepath.Base(filename), ".gob")
		return fmt.Sprintf("//chalk:object %s %s", name, filename)
	}
	for _, f := range seen {
		if f == filename {
			return fmt.Sprintf("println(%q)", "WARNING: Not loading "+filename+" -- would create recursive load")
		}
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Sprintf("println(%q)", "Error loading "+filename+" -- file not found")
	}
	if !strings.HasSuffix(filename, ".go") {
		return fmt.Sprintf("println(%q)", "Loading of file "+filename+" has type not implemented.")
	}
	return ws.resolvePseudoStatements(string(data), append(seen, thisFile), filename)
}

// saveObjects expands "save a, b" into per-object save commands. Objects
// are written into the execution working area, so they are harvested into
// the cell directory like any other produced file.
func (ws *Worksheet) saveObjects(s string) string {
	s = strings.NewReplacer(",", " ", "(", " ", ")", " ").Replace(s)
	var cmds []string
	for _, name := range strings.Fields(s) {
		cmds = append(cmds, fmt.Sprintf("//chalk:save %s %s.gob", name, name))
	}
	return strings.Join(cmds, "\n")
}

// normalizedFilenames splits the argument list of a load/attach/detach
// pseudo-statement, strips quotes and a trailing comment, and tries known
// extensions for names that do not resolve as given.
func (ws *Worksheet) normalizedFilenames(s string) []string {
	if i := strings.Index(s, "//"); i != -1 {
		s = s[:i]
	}
	var names []string
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, `"'`)
		if !strings.HasSuffix(f, ".go") && !strings.HasSuffix(f, ".gob") {
			if _, err := os.Stat(f); err != nil {
				if _, err := os.Stat(f + ".go"); err == nil {
					f += ".go"
				} else if _, err := os.Stat(f + ".gob"); err == nil {
					f += ".gob"
				}
			}
		}
		names = append(names, f)
	}
	return names
}

// loadPath is the list of directories searched for load/attach targets: the
// worksheet's data directory first, then every cell directory.
func (ws *Worksheet) loadPath() []string {
	path := []string{ws.DataDir()}
	cellsDir := filepath.Join(ws.dir, "cells")
	entries, err := os.ReadDir(cellsDir)
	if err != nil {
		return path
	}
	for _, e := range entries {
		path = append(path, filepath.Join(cellsDir, e.Name()))
	}
	return path
}

// huntFile resolves a filename against the load path when it does not exist
// as given, also trying an object-file extension at each stop.
func (ws *Worksheet) huntFile(filename string) string {
	if _, err := os.Stat(filename); err != nil {
		base := filepath.Base(filename)
		for _, d := range ws.loadPath() {
			t := filepath.Join(d, base)
			if _, err := os.Stat(t); err == nil {
				filename = t
				break
			}
			if _, err := os.Stat(t + ".gob"); err == nil {
				filename = t + ".gob"
				break
			}
		}
	}
	if abs, err := filepath.Abs(filename); err == nil {
		return abs
	}
	return filename
}

func afterFirstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i != -1 {
		return strings.TrimSpace(s[i:])
	}
	return ""
}
