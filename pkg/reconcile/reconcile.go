// Package reconcile keeps the displayed bucket list converged with the
// server: it detects added, removed and orphaned buckets on a fixed interval
// and updates counts in place when nothing structural changed.
package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/fault"
	"github.com/haio-cloud/haio-client/pkg/metrics"
	"github.com/haio-cloud/haio-client/pkg/persist"
	"github.com/haio-cloud/haio-client/pkg/swift"
)

// PromptOrphanMounts asks whether leftover mounts from a previous session
// should be bulk-unmounted. The payload is the list of mount point paths.
const PromptOrphanMounts = "orphan_mounts"

// Lister is the server-side container listing the engine converges against.
type Lister interface {
	ListContainers(ctx context.Context) ([]swift.Container, error)
}

// Mounts is the supervisor surface the engine drives.
type Mounts interface {
	State(container string) (bus.MountState, string)
	Unmount(ctx context.Context, container, correlationID string) error
	Adopt(container, mountPoint string)
}

// OrphanFinder scans for mounts with no in-memory record.
type OrphanFinder interface {
	FindOrphanMounts(username string, hasRecord func(container string) bool) ([]string, error)
}

// Engine runs the reconciliation loop for one account.
type Engine struct {
	cfg      config.ReconcileConfig
	api      Lister
	mounts   Mounts
	persist  persist.Installer
	bus      *bus.Bus
	orphans  OrphanFinder
	username string

	startupScan sync.Once

	mu      sync.Mutex
	pending []string // orphan mount points awaiting the user's decision
}

// New creates an Engine.
func New(cfg config.ReconcileConfig, api Lister, mounts Mounts, installer persist.Installer,
	b *bus.Bus, orphans OrphanFinder, username string) *Engine {
	return &Engine{
		cfg:      cfg,
		api:      api,
		mounts:   mounts,
		persist:  installer,
		bus:      b,
		orphans:  orphans,
		username: username,
	}
}

// Run ticks until ctx ends. The first tick also scans for orphan mounts left
// behind by a previous session and asks the user what to do with them, once.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.startupScan.Do(e.scanOrphans)
	e.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick performs one reconciliation pass. A listing failure skips the pass
// without touching the UI.
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	containers, err := e.api.ListContainers(ctx)
	if err != nil {
		metrics.ReconcileTicks.WithLabelValues("skipped").Inc()
		logger.Warn("reconcile tick skipped: listing failed", logger.KeyError, err.Error())
		return
	}

	server := make(map[string]swift.Container, len(containers))
	for _, c := range containers {
		server[c.Name] = c
	}

	ui := make(map[string]bool)
	for _, name := range e.bus.Names() {
		ui[name] = true
	}

	installed, err := e.persist.ListInstalled(e.username)
	if err != nil {
		logger.Warn("reconcile: cannot list auto-mount entries", logger.KeyError, err.Error())
	}

	var added, removed, orphanedPersist []string
	for name := range server {
		if !ui[name] {
			added = append(added, name)
		}
	}
	for name := range ui {
		if _, ok := server[name]; !ok {
			removed = append(removed, name)
		}
	}
	for _, name := range installed {
		// Entries for buckets leaving the UI are handled with the removal
		// itself; orphans are entries with no bucket anywhere.
		if _, ok := server[name]; !ok && !ui[name] {
			orphanedPersist = append(orphanedPersist, name)
		}
	}

	var errs *multierror.Error

	// Removals complete before additions become visible.
	if len(removed) > 0 {
		e.bus.Status(fmt.Sprintf("Bucket(s) deleted: %s - cleaning up...", strings.Join(removed, ", ")), 3*time.Second)
		for _, name := range removed {
			if err := e.dropBucket(ctx, name); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		e.bus.Status(fmt.Sprintf("✓ Removed %d deleted bucket(s)", len(removed)), 5*time.Second)
	}

	for _, name := range orphanedPersist {
		if err := e.persist.Remove(ctx, e.username, name); err != nil {
			errs = multierror.Append(errs, err)
			e.bus.Fail("", err)
		}
	}

	if len(added) > 0 || len(removed) > 0 {
		rows := make([]bus.BucketVM, 0, len(containers))
		for _, c := range containers {
			rows = append(rows, bus.BucketVM{
				Name:             c.Name,
				Bytes:            c.Bytes,
				Count:            c.Count,
				PersistInstalled: e.persist.IsInstalled(e.username, c.Name),
			})
		}
		e.bus.SetBuckets(rows)
	} else {
		// No structural change: patch counts in place so the frontend list
		// keeps its scroll position and in-flight interactions.
		for _, c := range containers {
			e.bus.UpdateCounts(c.Name, c.Bytes, c.Count)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		metrics.ReconcileTicks.WithLabelValues("error").Inc()
		e.bus.Status("Some cleanup steps failed; see the log for details", 5*time.Second)
		logger.Warn("reconcile tick finished with errors", logger.KeyError, err.Error())
		return
	}
	metrics.ReconcileTicks.WithLabelValues("ok").Inc()
}

// dropBucket tears down everything local about a server-side deleted bucket.
func (e *Engine) dropBucket(ctx context.Context, name string) error {
	var errs *multierror.Error

	if state, _ := e.mounts.State(name); state == bus.StateMounted || state == bus.StateDegraded {
		if err := e.mounts.Unmount(ctx, name, ""); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if e.persist.IsInstalled(e.username, name) {
		if err := e.persist.Remove(ctx, e.username, name); err != nil {
			errs = multierror.Append(errs, err)
			if fault.IsKind(err, fault.PersistUserCancelled) {
				e.bus.Fail("", err)
			}
		}
	}

	e.bus.Remove(name)
	return errs.ErrorOrNil()
}

// scanOrphans looks for mounts surviving from a previous session and asks
// the user whether to bulk-unmount them. The choice is honoured, not assumed.
func (e *Engine) scanOrphans() {
	paths, err := e.orphans.FindOrphanMounts(e.username, func(container string) bool {
		state, _ := e.mounts.State(container)
		return state != bus.StateUnmounted
	})
	if err != nil {
		logger.Warn("orphan mount scan failed", logger.KeyError, err.Error())
		return
	}
	if len(paths) == 0 {
		return
	}

	logger.Warn("orphan mounts detected",
		logger.KeyErrorKind, string(fault.OrphanMountDetected),
		logger.KeyCount, len(paths))

	e.mu.Lock()
	e.pending = append([]string(nil), paths...)
	e.mu.Unlock()

	e.bus.Prompt(PromptOrphanMounts, paths)
}

// HandleOrphansDecision applies the user's answer to the orphan-mounts
// prompt. When accepted, each orphan is adopted and unmounted.
func (e *Engine) HandleOrphansDecision(ctx context.Context, unmount bool) error {
	e.mu.Lock()
	paths := e.pending
	e.pending = nil
	e.mu.Unlock()

	if !unmount || len(paths) == 0 {
		return nil
	}

	var errs *multierror.Error
	for _, path := range paths {
		container := containerFromMountPath(path, e.username)
		if container == "" {
			continue
		}
		e.mounts.Adopt(container, path)
		if err := e.mounts.Unmount(ctx, container, ""); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		e.bus.Status("Some orphan mounts could not be removed", 5*time.Second)
		return err
	}
	e.bus.Status(fmt.Sprintf("✓ Unmounted %d leftover mount(s)", len(paths)), 5*time.Second)
	return nil
}

// containerFromMountPath recovers the container name from a mount point
// following the <home>/haio-<username>-<container> convention.
func containerFromMountPath(path, username string) string {
	base := filepath.Base(path)
	prefix := "haio-" + username + "-"
	if !strings.HasPrefix(base, prefix) {
		return ""
	}
	return strings.TrimPrefix(base, prefix)
}
