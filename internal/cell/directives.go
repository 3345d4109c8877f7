package cell

import "strings"

// nonSystemDirectives are directive tokens that control display or timing
// and never select an execution system.
var nonSystemDirectives = map[string]bool{
	"auto":        true,
	"hide":        true,
	"hideall":     true,
	"save_server": true,
	"time":        true,
	"timeit":      true,
}

// ParseDirectives scans leading %-directive lines off the top of raw cell
// input. A line is a directive if it starts with '%'; the legacy "#auto"
// marker is tolerated as a continuation and recorded as the auto directive.
// The scan stops at the first line that is neither.
//
// Tokens outside the fixed non-system set select the execution system,
// last one scanned winning. The returned cleaned text is the remaining
// lines with surrounding whitespace trimmed, so parsing is idempotent:
// running ParseDirectives on cleaned yields no directives and the same
// text back.
func ParseDirectives(input string) (directives []string, system string, cleaned string) {
	lines := strings.Split(input, "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "#auto":
			directives = append(directives, "auto")
		case strings.HasPrefix(line, "%"):
			tok := line[1:]
			if !nonSystemDirectives[tok] {
				system = tok
			}
			directives = append(directives, tok)
		default:
			cleaned = strings.TrimSpace(strings.Join(lines[i:], "\n"))
			return directives, system, cleaned
		}
	}
	return directives, system, ""
}
