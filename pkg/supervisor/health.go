package supervisor

import (
	"context"
	"time"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/metrics"
	"github.com/haio-cloud/haio-client/pkg/mountpoint"
)

// PromptDegraded is the prompt kind asking whether to remount a degraded
// bucket. The payload is the bucket name.
const PromptDegraded = "degraded_mount"

// RunHealthMonitor re-probes mounted buckets until ctx ends. A probe that
// finds anything but a live mount transitions the bucket to DEGRADED; the
// bucket is then remounted automatically or the user is asked, depending on
// configuration.
func (s *Supervisor) RunHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeAll(ctx)
		}
	}
}

func (s *Supervisor) probeAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.recs))
	for name := range s.recs {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		s.probe(ctx, name)
	}
}

func (s *Supervisor) probe(ctx context.Context, container string) {
	r := s.rec(container)

	// Never queue behind an in-flight operation; the next tick will probe.
	if !r.mu.TryLock() {
		return
	}
	defer r.mu.Unlock()

	if r.state != bus.StateMounted {
		return
	}

	class := s.inspector.Classify(r.mountPoint)
	if class == mountpoint.LiveMount {
		return
	}

	logger.Warn("mounted bucket became unhealthy",
		logger.KeyBucket, container,
		logger.KeyMountPoint, r.mountPoint,
		logger.KeyState, class.String())

	metrics.DegradedTransitions.Inc()
	s.setState(r, container, bus.StateDegraded)

	if s.cfg.AutoRecover {
		go func() {
			if err := s.Mount(ctx, container, ""); err == nil {
				s.bus.Status("Remounted "+container, 3*time.Second)
			}
		}()
		return
	}

	s.bus.Prompt(PromptDegraded, container)
}
