package supervisor

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/fault"
	"github.com/haio-cloud/haio-client/pkg/metrics"
	"github.com/haio-cloud/haio-client/pkg/mountpoint"
)

// mountSteps is the number of progress steps reported during a mount.
const mountSteps = 4

// Mount brings a bucket to MOUNTED. Re-mounting a live mount is an
// idempotent success. correlationID ties progress events to the originating
// command and may be empty for internally triggered mounts.
func (s *Supervisor) Mount(ctx context.Context, container, correlationID string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	r := s.rec(container)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == bus.StateFailed {
		return r.lastErr
	}
	if r.state == bus.StateMounted {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.setCancel(r, cancel)
	defer func() {
		cancel()
		s.setCancel(r, nil)
	}()

	s.bus.SetBusy(container, true)
	defer s.bus.SetBusy(container, false)

	err := s.mountLocked(ctx, r, container, correlationID)
	if err != nil {
		s.bus.Fail(correlationID, err)
	}
	return err
}

func (s *Supervisor) mountLocked(ctx context.Context, r *record, container, correlationID string) error {
	s.setState(r, container, bus.StateMounting)

	s.bus.Progress(correlationID, "mount", 1, mountSteps)

	mp, err := s.resolveMountPoint(container)
	if err != nil {
		return s.fail(r, container, fault.Wrap(fault.MountPointUncleanable, "cannot resolve mount point", err))
	}
	r.mountPoint = mp

	class := s.inspector.Classify(mp)
	logger.Debug("mount point classified",
		logger.KeyBucket, container,
		logger.KeyPath, mp,
		logger.KeyState, class.String())

	switch class {
	case mountpoint.LiveMount:
		// Already mounted, nothing to do.
		r.startedAt = time.Now()
		s.setState(r, container, bus.StateMounted)
		return nil

	case mountpoint.StaleMount, mountpoint.NonDir:
		s.bus.Progress(correlationID, "mount", 2, mountSteps)
		if err := s.cleanupMountPoint(ctx, mp); err != nil {
			return s.fail(r, container, err)
		}
		if class == mountpoint.StaleMount {
			logger.Info("stale mount recovered",
				logger.KeyBucket, container,
				logger.KeyMountPoint, mp,
				logger.KeyErrorKind, string(fault.StaleMountRecovered))
			s.bus.Status("✓ Recovered stale mount for "+container, 3*time.Second)
		}

	case mountpoint.NonEmptyDir:
		return s.fail(r, container, fault.Newf(fault.MountPointNotEmpty,
			"%s contains files and is not a mount", mp).
			WithRemediation("move the directory contents elsewhere and retry"))

	case mountpoint.Absent:
		if err := os.MkdirAll(mp, 0o755); err != nil {
			return s.fail(r, container, fault.Wrap(fault.MountPointUncleanable,
				"cannot create mount point", err))
		}
	}

	s.bus.Progress(correlationID, "mount", 3, mountSteps)
	configName := agent.ConfigName(s.sess.Username())
	if err := s.agent.WriteAgentConfig(configName, s.sess.BaseURL(), s.sess.Username(), s.sess.Token()); err != nil {
		return s.fail(r, container, err)
	}

	s.bus.Progress(correlationID, "mount", 4, mountSteps)
	proc, err := s.spawnAndVerify(ctx, configName, container, mp)
	if err != nil {
		if ctx.Err() != nil {
			return s.abortMount(r, container, err)
		}
		metrics.MountFailures.WithLabelValues(container, string(fault.KindOf(err))).Inc()
		return s.fail(r, container, err)
	}

	r.proc = proc
	r.startedAt = time.Now()
	s.setState(r, container, bus.StateMounted)

	logger.Info("bucket mounted",
		logger.KeyBucket, container,
		logger.KeyMountPoint, mp,
		logger.KeyPID, proc.PID())
	return nil
}

// abortMount rolls a cancelled mount back toward UNMOUNTED instead of
// latching FAILED. Cleanup runs on a fresh context because the operation's
// own context is already cancelled.
func (s *Supervisor) abortMount(r *record, container string, cause error) error {
	s.setState(r, container, bus.StateUnmounting)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.UnmountTotalTimeout)
	defer cancel()
	if err := s.cleanupMountPoint(ctx, r.mountPoint); err != nil {
		// Something still holds the mount point; leave it DEGRADED so the
		// health monitor and the user can see it.
		s.setState(r, container, bus.StateDegraded)
		logger.Warn("cancelled mount left a pinned mount point",
			logger.KeyBucket, container,
			logger.KeyError, err.Error())
		return cause
	}

	r.proc = nil
	s.setState(r, container, bus.StateUnmounted)
	logger.Info("mount cancelled", logger.KeyBucket, container)
	return cause
}

// fail records a fatal error and transitions to FAILED.
func (s *Supervisor) fail(r *record, container string, err error) error {
	r.lastErr = err
	s.setState(r, container, bus.StateFailed)
	logger.Error("mount failed",
		logger.KeyBucket, container,
		logger.KeyErrorKind, string(fault.KindOf(err)),
		logger.KeyError, err.Error())
	return err
}

// cleanupMountPoint clears a stale mount or leftover inode so the path can be
// recreated as an empty directory.
func (s *Supervisor) cleanupMountPoint(ctx context.Context, mp string) error {
	for _, mode := range []agent.UnmountMode{agent.UnmountGraceful, agent.UnmountForced, agent.UnmountLazy} {
		mctx, cancel := context.WithTimeout(ctx, s.cfg.UnmountModeTimeout)
		err := s.agent.Unmount(mctx, mp, mode)
		cancel()
		if err == agent.ErrNoUnmountCommand {
			break
		}
		if !s.inspector.Classify(mp).IsMounted() {
			break
		}
	}

	if s.inspector.Classify(mp).IsMounted() {
		return fault.Newf(fault.MountPointUncleanable, "stale mount at %s would not detach", mp).
			WithRemediation(unmountHint(mp)...)
	}

	if info, err := os.Lstat(mp); err == nil && !info.IsDir() {
		if err := os.Remove(mp); err != nil {
			return fault.Wrap(fault.MountPointUncleanable, "cannot remove leftover file at mount point", err)
		}
	}
	if err := os.MkdirAll(mp, 0o755); err != nil {
		return fault.Wrap(fault.MountPointUncleanable, "cannot recreate mount point", err)
	}
	return nil
}

func unmountHint(mp string) []string {
	return []string{
		"fusermount -uz " + mp,
		"umount -l " + mp,
	}
}

// spawnAndVerify starts the agent and polls until the mount appears, with
// per-attempt verification timeout and backoff between attempts.
func (s *Supervisor) spawnAndVerify(ctx context.Context, configName, container, mp string) (Proc, error) {
	argv := s.agent.MountArgv(configName, container, mp)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MountAttempts; attempt++ {
		metrics.MountAttempts.WithLabelValues(container).Inc()

		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.MountBackoff):
			}
		}

		logger.Debug("spawning mount agent",
			logger.KeyBucket, container,
			logger.KeyAttempt, attempt)

		proc, err := s.agent.Spawn(argv)
		if err != nil {
			lastErr = err
			continue
		}

		verified, err := s.waitForMount(ctx, proc, mp)
		if verified {
			return proc, nil
		}
		if ctx.Err() != nil {
			// The operation was cancelled; the agent must not outlive it.
			_ = proc.Terminate()
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = err
		} else {
			_ = proc.Terminate()
			lastErr = fault.Newf(fault.MountVerifyTimeout,
				"mount of %s did not appear within %s", container, s.cfg.VerifyTimeout)
		}
	}

	return nil, lastErr
}

// waitForMount polls the classifier until the mount is live, the agent dies,
// or the verification window closes.
func (s *Supervisor) waitForMount(ctx context.Context, proc Proc, mp string) (bool, error) {
	deadline := time.Now().Add(s.cfg.VerifyTimeout)

	for time.Now().Before(deadline) {
		if exited, werr := proc.Exited(); exited {
			detail := strings.TrimSpace(proc.Tail())
			if detail == "" && werr != nil {
				detail = werr.Error()
			}
			return false, fault.Newf(fault.AgentCrashed, "mount agent exited during startup: %s", detail)
		}

		if s.inspector.Classify(mp) == mountpoint.LiveMount {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(verifyPollInterval):
		}
	}
	return false, nil
}
