package agent

import (
	"os"
	"path/filepath"
)

// wellKnownDirs lists the system directories searched after PATH.
func wellKnownDirs() []string {
	var dirs []string
	for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LOCALAPPDATA"} {
		if root := os.Getenv(env); root != "" {
			dirs = append(dirs, filepath.Join(root, "rclone"))
		}
	}
	return dirs
}
