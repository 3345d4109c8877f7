package worksheet

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhalloran/chalk/internal/cell"
	"github.com/mhalloran/chalk/internal/kernel"
)

// Sentinels recognized by the output post-processor. Output carrying
// noTruncate is never truncated; the truncation warning itself doubles as a
// sentinel, making truncation idempotent. Output carrying noTracebacks
// keeps its traceback expanded.
const (
	noTruncate      = "notruncate"
	truncatedMarker = "Output truncated!"
	noTracebacks    = "notracebacks"
)

// TruncateOutput enforces the byte and line budgets on output text. Oversize
// output keeps the first and last half-budgets around an ellipsis. When the
// evaluation has fully completed, the untruncated text is written to
// full_output.txt in cellDir and the returned path is non-empty; mid-run
// output is never spilled to disk. Output containing a sentinel passes
// through unchanged.
func TruncateOutput(output string, maxBytes, maxLines int, cellDir string, completed bool) (string, string) {
	if strings.Contains(output, noTruncate) || strings.Contains(output, truncatedMarker) {
		return output, ""
	}
	if len(output) <= maxBytes && strings.Count(output, "\n") <= maxLines {
		return output, ""
	}
	full := ""
	warning := "WARNING: " + truncatedMarker + "  "
	if completed {
		if err := os.MkdirAll(cellDir, 0o755); err == nil {
			full = filepath.Join(cellDir, "full_output.txt")
			if err := os.WriteFile(full, []byte(output), 0o644); err != nil {
				full = ""
			}
		}
		if full != "" {
			warning += "(full output in full_output.txt)"
		}
	}
	lines := strings.Split(output, "\n")
	head := lines
	if len(head) > maxLines/2 {
		head = head[:maxLines/2]
	}
	tail := lines
	if len(tail) > maxLines/2 {
		tail = tail[len(tail)-maxLines/2:]
	}
	start := strings.Join(head, "\n")
	if len(start) > maxBytes/2 {
		start = start[:maxBytes/2]
	}
	end := strings.Join(tail, "\n")
	if len(end) > maxBytes/2 {
		end = end[len(end)-maxBytes/2:]
	}
	return warning + "\n\n" + start + "\n\n...\n\n" + end, full
}

// ShrinkTraceback reduces output that contains a runtime traceback to the
// text before it, a one-line summary, and the final error line. Output with
// no traceback, or carrying the no-tracebacks sentinel, passes through
// unchanged.
func ShrinkTraceback(s string) string {
	if !strings.Contains(s, kernel.Traceback) || strings.Contains(s, noTracebacks) {
		return s
	}
	lines := strings.Split(strings.TrimSpace(s), "\n")
	k := 0
	for i, line := range lines {
		if strings.Contains(line, kernel.Traceback) {
			k = i
			break
		}
	}
	return strings.Join(lines[:k], "\n") +
		"\nTraceback (click to the left for traceback)\n...\n" +
		lines[len(lines)-1]
}

// ClassifyFile maps a produced file to how a client should render it, by
// extension.
func ClassifyFile(name string) cell.FileClass {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".bmp", ".jpg", ".jpeg", ".gif", ".svg":
		return cell.FileImage
	case ".obj", ".canvas3d":
		return cell.FileScene3D
	case ".mtl", ".objmeta":
		// companion data for a 3-D scene, not shown on its own
		return cell.FileIgnored
	default:
		return cell.FileLink
	}
}

// harvestFiles copies files produced by the execution from the process
// working area into the cell's directory, replacing stale preview symlinks,
// and records the classified list on the cell. Per-file errors are logged
// and do not fail the cell.
func (ws *Worksheet) harvestFiles(c *cell.Cell, files []string) {
	if len(files) == 0 {
		return
	}
	dir := ws.CellDir(c)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ws.logf("cell %d: create cell directory: %v", c.ID(), err)
		return
	}
	var produced []cell.File
	for _, f := range files {
		name := filepath.Base(f)
		target := filepath.Join(dir, name)
		if info, err := os.Lstat(target); err == nil {
			if info.IsDir() {
				os.RemoveAll(target)
			} else {
				os.Remove(target)
			}
		}
		var err error
		if info, statErr := os.Stat(f); statErr == nil && info.IsDir() {
			err = copyTree(f, target)
		} else {
			err = copyFile(f, target)
		}
		if err != nil {
			ws.logf("cell %d: harvest %s: %v", c.ID(), name, err)
			continue
		}
		produced = append(produced, cell.File{Name: name, Class: ClassifyFile(name)})
	}
	c.SetProduced(produced)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(s, d); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(s, d); err != nil {
			return err
		}
	}
	return nil
}
