// Package mountpoint classifies local paths with respect to the kernel
// mount table and derives the deterministic per-bucket mount point paths.
package mountpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Class is the classification of a path.
type Class int

const (
	// Absent: the path does not exist.
	Absent Class = iota
	// NonDir: the path exists but is not a directory.
	NonDir
	// EmptyDir: a readable directory with no entries, not a mount.
	EmptyDir
	// NonEmptyDir: a readable directory with entries, not a mount.
	NonEmptyDir
	// LiveMount: listed in the mount table and readdir succeeds.
	LiveMount
	// StaleMount: the mount table or a broken-endpoint readdir error says a
	// mount is (or was) here, but it does not respond.
	StaleMount
)

func (c Class) String() string {
	switch c {
	case Absent:
		return "ABSENT"
	case NonDir:
		return "NON_DIR"
	case EmptyDir:
		return "EMPTY_DIR"
	case NonEmptyDir:
		return "NON_EMPTY_DIR"
	case LiveMount:
		return "LIVE_MOUNT"
	case StaleMount:
		return "STALE_MOUNT"
	default:
		return "UNKNOWN"
	}
}

// IsMounted reports whether the class represents a mount, live or stale.
func (c Class) IsMounted() bool {
	return c == LiveMount || c == StaleMount
}

// probeTimeout bounds every classification probe. A hung probe (stale FUSE
// endpoints block stat/readdir indefinitely) degrades to StaleMount.
const probeTimeout = 2 * time.Second

// Inspector classifies paths. The mount-table reader is replaceable for tests.
type Inspector struct {
	// Timeout overrides probeTimeout when non-zero.
	Timeout time.Duration

	// mountTable returns the set of mounted target paths.
	mountTable func() (map[string]bool, error)
}

// NewInspector creates an Inspector backed by the real mount table.
func NewInspector() *Inspector {
	return &Inspector{mountTable: listMountTargets}
}

// NewInspectorWithTable creates an Inspector with a fake mount table.
func NewInspectorWithTable(table func() (map[string]bool, error)) *Inspector {
	return &Inspector{mountTable: table}
}

// Classify returns exactly one Class for path. It never hangs: probes run
// under a watchdog and time out to StaleMount.
func (i *Inspector) Classify(path string) Class {
	timeout := i.Timeout
	if timeout == 0 {
		timeout = probeTimeout
	}

	result := make(chan Class, 1)
	go func() {
		result <- i.probe(path)
	}()

	select {
	case c := <-result:
		return c
	case <-time.After(timeout):
		return StaleMount
	}
}

// probe performs the blocking classification work.
func (i *Inspector) probe(path string) Class {
	inTable := false
	if targets, err := i.mountTable(); err == nil {
		inTable = targets[filepath.Clean(path)]
	}

	info, err := os.Lstat(path)
	switch {
	case err != nil && os.IsNotExist(err):
		if inTable {
			return StaleMount
		}
		return Absent
	case err != nil:
		// Stat failing on an existing entry is what broken FUSE endpoints do.
		if inTable || isBrokenMountErr(err) {
			return StaleMount
		}
		return NonDir
	}

	if !info.IsDir() {
		// An agent that died mid-mount can leave a non-directory inode at a
		// path the kernel still lists. STALE wins over NON_DIR.
		if inTable {
			return StaleMount
		}
		return NonDir
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if inTable || isBrokenMountErr(err) {
			return StaleMount
		}
		return NonDir
	}

	if inTable {
		return LiveMount
	}
	if len(entries) == 0 {
		return EmptyDir
	}
	return NonEmptyDir
}

// PathFor derives the deterministic mount point for a bucket:
// <home>/haio-<username>-<container>.
func PathFor(username, container string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, mountDirName(username, container)), nil
}

// mountDirName returns the basename used for a bucket mount point.
func mountDirName(username, container string) string {
	return "haio-" + username + "-" + container
}

// FindOrphanMounts scans the user's home directory for mount points that
// follow the naming convention, are live or stale mounts, and have no
// in-memory record (hasRecord returns false for their container).
func (i *Inspector) FindOrphanMounts(username string, hasRecord func(container string) bool) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	entries, err := os.ReadDir(home)
	if err != nil {
		return nil, fmt.Errorf("failed to scan home directory: %w", err)
	}

	prefix := "haio-" + username + "-"
	var orphans []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		container := strings.TrimPrefix(entry.Name(), prefix)
		if container == "" || hasRecord(container) {
			continue
		}

		path := filepath.Join(home, entry.Name())
		if i.Classify(path).IsMounted() {
			orphans = append(orphans, path)
		}
	}

	sort.Strings(orphans)
	return orphans, nil
}
