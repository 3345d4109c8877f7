package worksheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mhalloran/chalk/internal/cell"
	"github.com/mhalloran/chalk/internal/kernel"
)

// Output stream markers. The begin and end markers are printed by the
// process itself, framed around the submitted program text, so draining the
// raw stream can pick out exactly the output belonging to the current
// execution.
const (
	markerBegin = kernel.ControlChar + "b"
	markerEnd   = kernel.ControlChar + "e"
)

// synchronize wraps program text with begin/end marker prints tagged with
// the next value of the synchro counter. The marker prints live in their
// own batch parts, so a failure in the program text still prints the end
// marker.
func (ws *Worksheet) synchronize(s string) string {
	ws.synchro = (ws.synchro + 1) % 65536
	begin := fmt.Sprintf("%s%d", markerBegin, ws.synchro)
	end := fmt.Sprintf("%s%d", markerEnd, ws.synchro)
	return fmt.Sprintf("println(%q)\n", begin) +
		kernel.PartSeparator + "\n" +
		s + "\n" +
		kernel.PartSeparator + "\n" +
		fmt.Sprintf("println(%q)\n", end)
}

// Synchro returns the current value of the correlation counter.
func (ws *Worksheet) Synchro() int {
	if ws.synchro < 0 {
		return 0
	}
	return ws.synchro
}

// processOutput extracts the part of the raw output stream that belongs to
// the current execution and cleans the protocol markers out of it.
func (ws *Worksheet) processOutput(s string, c *cell.Cell) string {
	s = strings.ReplaceAll(s, "\b", "")
	s = ws.stripSynchro(s)
	n := strconv.Itoa(ws.Synchro())
	s = strings.ReplaceAll(s, markerEnd+n, "")
	s = strings.ReplaceAll(s, kernel.MarkerError, "")
	s = strings.TrimLeft(s, "\n")
	if c.Introspecting() != nil {
		return s
	}
	return strings.TrimRight(s, "\n")
}

// stripSynchro discards everything before the begin marker carrying the
// current counter: output from a previous, abandoned execution. When no
// matching marker has arrived yet, a traceback is surfaced immediately
// (something failed before the marker could print); anything else is
// treated as not yet available.
func (ws *Worksheet) stripSynchro(s string) string {
	z := markerBegin + strconv.Itoa(ws.Synchro())
	i := strings.Index(s, z)
	if i == -1 {
		if j := strings.Index(s, kernel.Traceback); j != -1 {
			return s[j:]
		}
		return ""
	}
	return s[i+len(z):]
}

// bestCompletion returns the longest common extension of word among the
// whitespace-separated candidates in s: the text that can be auto-inserted
// because every candidate agrees on it. Candidates that do not extend word
// are ignored; a failed completion run hands traceback text here, and none
// of it can be an extension.
func bestCompletion(s, word string) string {
	var completions []string
	for _, w := range strings.Fields(s) {
		if strings.HasPrefix(w, word) {
			completions = append(completions, w)
		}
	}
	if len(completions) == 0 {
		return ""
	}
	n := len(word)
	m := len(completions[0])
	for _, w := range completions {
		if len(w) < m {
			m = len(w)
		}
	}
	if n >= m {
		return ""
	}
	for i := n; i <= m; i++ {
		prefix := completions[0][:i]
		for _, w := range completions[1:] {
			if w[:i] != prefix {
				return w[n : i-1]
			}
		}
	}
	return completions[0][n:m]
}
