//go:build !windows

package agent

// wellKnownDirs lists the system directories searched after PATH.
func wellKnownDirs() []string {
	return []string{
		"/usr/local/bin",
		"/usr/bin",
		"/opt/homebrew/bin",
		"/snap/bin",
	}
}
