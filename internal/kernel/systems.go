package kernel

import (
	"fmt"
	"os/exec"
)

// ShellSystem returns a SystemEval that runs a snippet through the shell,
// chdir'd to the execution working area, for %sh cells.
func ShellSystem() SystemEval {
	return func(src, dir string) (string, error) {
		cmd := exec.Command("sh", "-c", src)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("%s%v", out, err)
		}
		return string(out), nil
	}
}
