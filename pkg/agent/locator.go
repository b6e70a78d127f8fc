package agent

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/haio-cloud/haio-client/pkg/fault"
)

// binaryName returns the mount-agent executable name for this platform.
func binaryName() string {
	if runtime.GOOS == "windows" {
		return "rclone.exe"
	}
	return "rclone"
}

// Locate resolves the mount-agent binary.
//
// Search order: a copy bundled alongside this executable, the override
// (config agent.path or HAIO_MOUNT_AGENT), PATH, then well-known system
// directories. The returned path is absolute so it stays valid when embedded
// in boot-persistence artifacts.
func Locate(override string) (string, error) {
	name := binaryName()

	if exe, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(exe), name)
		if isExecutableFile(bundled) {
			return bundled, nil
		}
	}

	if override != "" {
		if isExecutableFile(override) {
			return filepath.Abs(override)
		}
		return "", fault.Newf(fault.AgentNotFound, "mount agent not found at %s", override).
			WithRemediation(
				"check the agent.path setting or the HAIO_MOUNT_AGENT environment variable",
			)
	}

	if path, err := exec.LookPath(name); err == nil {
		return filepath.Abs(path)
	}

	for _, dir := range wellKnownDirs() {
		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate) {
			return candidate, nil
		}
	}

	return "", fault.New(fault.AgentNotFound, "mount agent binary not found").
		WithRemediation(
			"install the mount agent and ensure it is on PATH",
			"or set HAIO_MOUNT_AGENT to the binary's full path",
		)
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

// IsVolatilePath reports whether path lives in a temporary location that may
// not survive a reboot. Such paths must never be embedded in persistence
// artifacts.
func IsVolatilePath(path string) bool {
	clean := filepath.Clean(path)

	roots := []string{os.TempDir(), "/tmp", "/var/tmp", "/dev/shm", "/run"}
	if runtime.GOOS == "windows" {
		roots = []string{os.TempDir(), os.Getenv("TEMP"), os.Getenv("TMP")}
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if pathHasPrefix(clean, root) {
			return true
		}
	}
	return false
}

func pathHasPrefix(path, root string) bool {
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
