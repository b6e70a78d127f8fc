package supervisor

import (
	"context"
	"os"
	"time"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/fault"
	"github.com/haio-cloud/haio-client/pkg/metrics"
)

// Unmount detaches a bucket, falling through graceful, forced and lazy modes
// and finally terminating the recorded agent process. Unmounting an
// unmounted bucket is a success.
func (s *Supervisor) Unmount(ctx context.Context, container, correlationID string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	r := s.rec(container)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == bus.StateUnmounted || r.mountPoint == "" {
		s.setState(r, container, bus.StateUnmounted)
		return nil
	}

	s.bus.SetBusy(container, true)
	defer s.bus.SetBusy(container, false)

	err := s.unmountLocked(ctx, r, container)
	if err != nil {
		s.bus.Fail(correlationID, err)
	}
	return err
}

func (s *Supervisor) unmountLocked(ctx context.Context, r *record, container string) error {
	s.setState(r, container, bus.StateUnmounting)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UnmountTotalTimeout)
	defer cancel()

	mp := r.mountPoint
	detachedBy := ""

	for _, mode := range []agent.UnmountMode{agent.UnmountGraceful, agent.UnmountForced, agent.UnmountLazy} {
		mctx, mcancel := context.WithTimeout(ctx, s.cfg.UnmountModeTimeout)
		err := s.agent.Unmount(mctx, mp, mode)
		mcancel()
		if err == agent.ErrNoUnmountCommand {
			break
		}
		if err != nil {
			logger.Debug("unmount mode failed",
				logger.KeyBucket, container,
				logger.KeyOp, mode.String(),
				logger.KeyError, err.Error())
		}
		if !s.inspector.Classify(mp).IsMounted() {
			detachedBy = mode.String()
			break
		}
	}

	if detachedBy == "" && r.proc != nil {
		// The mount outlived every unmount command; take down the agent.
		_ = r.proc.Terminate()
		if !s.waitDetached(ctx, mp, time.Second) {
			_ = r.proc.Kill()
			s.waitDetached(ctx, mp, time.Second)
		}
		if !s.inspector.Classify(mp).IsMounted() {
			detachedBy = "kill"
		}
	}

	if s.inspector.Classify(mp).IsMounted() {
		// Still pinned; leave the record DEGRADED so health probing and the
		// user can see it.
		s.setState(r, container, bus.StateDegraded)
		return fault.Newf(fault.MountPointUncleanable, "mount at %s would not detach", mp).
			WithRemediation(unmountHint(mp)...)
	}

	if detachedBy != "" {
		metrics.Unmounts.WithLabelValues(detachedBy).Inc()
	}

	// Remove the now-empty directory; a non-empty leftover is not ours to
	// delete.
	if entries, err := os.ReadDir(mp); err == nil && len(entries) == 0 {
		_ = os.Remove(mp)
	}

	r.proc = nil
	r.startedAt = time.Time{}
	s.setState(r, container, bus.StateUnmounted)

	logger.Info("bucket unmounted", logger.KeyBucket, container, logger.KeyMountPoint, mp)
	return nil
}

// waitDetached polls until the mount disappears or the wait elapses.
func (s *Supervisor) waitDetached(ctx context.Context, mp string, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !s.inspector.Classify(mp).IsMounted() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return !s.inspector.Classify(mp).IsMounted()
}

// unmountAll force-unmounts every mounted bucket, collecting errors.
func (s *Supervisor) unmountAll(ctx context.Context) error {
	var firstErr error
	for _, container := range s.Mounted() {
		if err := s.Unmount(ctx, container, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
