package worksheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mhalloran/chalk/internal/cell"
)

// EditText renders the worksheet as plain text suitable for hand editing: a
// name line, a system line, then one {{{id=N| input /// output }}} block per
// cell.
func (ws *Worksheet) EditText() string {
	var b strings.Builder
	b.WriteString(ws.name)
	b.WriteString("\n")
	b.WriteString("system:" + ws.settings.DefaultSystem)
	b.WriteString("\n\n")
	for _, c := range ws.cells {
		fmt.Fprintf(&b, "{{{id=%d|\n", c.ID())
		b.WriteString(strings.TrimRight(c.Input(), "\n"))
		b.WriteString("\n///\n")
		if out := c.Output(); out != "" {
			b.WriteString(strings.TrimRight(out, "\n"))
			b.WriteString("\n")
		}
		b.WriteString("}}}\n\n")
	}
	return b.String()
}

// EditSave replaces the worksheet's contents with the cells parsed from the
// plain-text markup. Cell ids from the blocks are honored where unique;
// id-less blocks and id collisions get the next free id. An existing cell
// with a matching id is reused, so scheduler state survives a no-op save.
// Queued cells that disappear are pruned from the queue.
func (ws *Worksheet) EditSave(text string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	if name, rest, ok := extractHeader(text); ok {
		if name != "" {
			ws.name = name
		}
		text = rest
	}

	blocks := extractBlocks(text)

	used := make(map[int]bool)
	nextFree := func() int {
		id := 0
		for used[id] {
			id++
		}
		return id
	}

	var cells []*cell.Cell
	for _, blk := range blocks {
		id := blk.id
		if !blk.hasID || used[id] || id < 0 {
			id = nextFree()
		}
		used[id] = true
		c := ws.Cell(id)
		if c == nil {
			c = cell.New(id, blk.input)
		} else {
			c.SetInput(blk.input)
		}
		c.SetOutput(blk.output, "")
		cells = append(cells, c)
	}
	if len(cells) == 0 {
		cells = append(cells, cell.New(nextFree(), ""))
	}
	ws.cells = cells

	max := -1
	for _, c := range ws.cells {
		if c.ID() > max {
			max = c.ID()
		}
	}
	ws.nextID = max + 1

	var queue []*cell.Cell
	for _, q := range ws.queue {
		for _, c := range ws.cells {
			if q == c {
				queue = append(queue, q)
				break
			}
		}
	}
	ws.queue = queue
}

// extractHeader peels the leading name and system:<name> lines off the
// markup, when present. Text that opens directly with a cell block has no
// header.
func extractHeader(text string) (name, rest string, ok bool) {
	lines := strings.Split(text, "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{{{") {
			return "", text, false
		}
		if strings.HasPrefix(line, "system:") {
			return name, strings.Join(lines[i+1:], "\n"), true
		}
		if name == "" {
			name = line
			continue
		}
		break
	}
	return name, strings.Join(lines[i:], "\n"), name != ""
}

type block struct {
	id     int
	hasID  bool
	input  string
	output string
}

// extractBlocks parses the {{{ ... /// ... }}} cell blocks out of marked-up
// text, ignoring anything between blocks.
func extractBlocks(text string) []block {
	var blocks []block
	lines := strings.Split(text, "\n")
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{{{") {
			i++
			continue
		}
		var blk block
		head := strings.TrimPrefix(line, "{{{")
		if j := strings.Index(head, "|"); j != -1 {
			if id, err := strconv.Atoi(strings.TrimPrefix(head[:j], "id=")); err == nil {
				blk.id = id
				blk.hasID = true
			}
		}
		i++
		var input, output []string
		cur := &input
		for i < len(lines) {
			line = lines[i]
			if strings.TrimSpace(line) == "}}}" {
				i++
				break
			}
			if strings.TrimSpace(line) == "///" {
				cur = &output
				i++
				continue
			}
			*cur = append(*cur, line)
			i++
		}
		blk.input = strings.TrimSpace(strings.Join(input, "\n"))
		blk.output = strings.TrimSpace(strings.Join(output, "\n"))
		blocks = append(blocks, blk)
	}
	return blocks
}
