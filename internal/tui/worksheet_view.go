package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mhalloran/chalk/internal/cell"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF")).
			MarginBottom(1)

	cellFrameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	cellFrameSelected = cellFrameStyle.
				BorderForeground(lipgloss.Color("#5B8DEF"))

	cellTagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	cellTagWorking = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F7B801")).
			Bold(true)

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A0AEC0"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4CAF50"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1)
)

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}

	var sections []string
	sections = append(sections, a.renderHeader())
	for i, c := range a.ws.Cells() {
		sections = append(sections, a.renderCell(c, i == a.selection, width-4))
	}
	sections = append(sections, footerStyle.Render(a.renderFooter()))
	return strings.Join(sections, "\n")
}

func (a *App) renderHeader() string {
	session := "no process"
	if a.ws.ProcessStarted() {
		session = "process up"
	}
	queue := ""
	if ids := a.ws.QueueIDs(); len(ids) > 0 {
		queue = fmt.Sprintf(" · queue %v", ids)
	}
	return headerStyle.Render(fmt.Sprintf(
		"◫ %s · system %s · %s%s", a.ws.Name(), a.ws.System(), session, queue,
	))
}

func (a *App) renderCell(c *cell.Cell, selected bool, width int) string {
	editing := a.mode == modeEdit && c.ID() == a.editingID

	tag := fmt.Sprintf("cell %d", c.ID())
	tagStyle := cellTagStyle
	if a.cellQueued(c.ID()) {
		tag += " · working"
		tagStyle = cellTagWorking
	}

	var body []string
	body = append(body, tagStyle.Render(tag))
	if editing {
		body = append(body, a.editor.View())
	} else {
		in := c.Input()
		if strings.TrimSpace(in) == "" {
			in = cellTagStyle.Render("(empty)")
		}
		body = append(body, in)
	}

	if c.DisplayMode() != cell.DisplayHidden {
		if out := strings.TrimRight(c.Output(), "\n"); out != "" {
			body = append(body, outputStyle.Render(out))
		}
		for _, f := range c.Produced() {
			if f.Class == cell.FileIgnored {
				continue
			}
			body = append(body, fileStyle.Render(fmt.Sprintf("[%s] %s", f.Class, f.Name)))
		}
	}

	frame := cellFrameStyle
	if selected {
		frame = cellFrameSelected
	}
	return frame.Width(max(20, width)).Render(strings.Join(body, "\n"))
}

func (a *App) cellQueued(id int) bool {
	for _, qid := range a.ws.QueueIDs() {
		if qid == id {
			return true
		}
	}
	return false
}

func (a *App) renderFooter() string {
	keys := "j/k move · enter edit · a/o/O new · d delete · x interrupt · R restart · s save · q quit"
	if a.mode == modeEdit {
		keys = "esc done · ctrl+e evaluate · tab complete"
	}
	if a.statusMsg == "" {
		return keys
	}
	return keys + "\n" + a.statusMsg
}
