// Package supervisor owns the per-bucket mount state machine: mounting,
// verification, health probing, the unmount ladder, and logout teardown.
package supervisor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/mountpoint"
)

// verifyPollInterval is how often the mount table is re-checked while waiting
// for a spawned agent to establish its mount.
const verifyPollInterval = 500 * time.Millisecond

// Agent is the mount-agent surface the supervisor drives.
type Agent interface {
	MountArgv(configName, container, mountPoint string) []string
	Spawn(argv []string) (Proc, error)
	Unmount(ctx context.Context, mountPoint string, mode agent.UnmountMode) error
	WriteAgentConfig(configName, endpoint, username, token string) error
}

// Proc is a running mount-agent process.
type Proc interface {
	PID() int
	Exited() (bool, error)
	Tail() string
	Terminate() error
	Kill() error
}

// Classifier probes mount points.
type Classifier interface {
	Classify(path string) mountpoint.Class
}

// Session provides the account identity and credentials for the agent config.
type Session interface {
	Username() string
	BaseURL() string
	Token() string
}

// Supervisor serializes operations per bucket and bounds cross-bucket
// parallelism with a worker pool.
type Supervisor struct {
	cfg       config.MountsConfig
	agent     Agent
	inspector Classifier
	bus       *bus.Bus
	sess      Session

	sem *semaphore.Weighted

	mu   sync.Mutex
	recs map[string]*record
}

// record is the supervisor's view of one bucket. Its mutex serializes all
// operations on the same (username, container) key.
type record struct {
	mu sync.Mutex

	state      bus.MountState
	mountPoint string
	proc       Proc
	startedAt  time.Time
	lastErr    error
	cancelOp   context.CancelFunc
}

// New creates a Supervisor.
func New(cfg config.MountsConfig, ag Agent, inspector Classifier, b *bus.Bus, sess Session) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		agent:     ag,
		inspector: inspector,
		bus:       b,
		sess:      sess,
		sem:       semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		recs:      make(map[string]*record),
	}
}

// WrapAdapter adapts *agent.Adapter to the Agent interface.
func WrapAdapter(a *agent.Adapter) Agent {
	return adapterAgent{a}
}

type adapterAgent struct {
	*agent.Adapter
}

func (a adapterAgent) Spawn(argv []string) (Proc, error) {
	p, err := a.Adapter.Spawn(argv)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Supervisor) rec(container string) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[container]
	if !ok {
		r = &record{state: bus.StateUnmounted}
		s.recs[container] = r
	}
	return r
}

// setCancel publishes the in-flight operation's cancel func so Logout can
// abort it even while the record mutex is held by the operation.
func (s *Supervisor) setCancel(r *record, cancel context.CancelFunc) {
	s.mu.Lock()
	r.cancelOp = cancel
	s.mu.Unlock()
}

func (s *Supervisor) setState(r *record, container string, state bus.MountState) {
	r.state = state
	s.bus.SetMountState(container, state, r.mountPoint)
}

// State returns the current state and mount point of a bucket.
func (s *Supervisor) State(container string) (bus.MountState, string) {
	s.mu.Lock()
	r, ok := s.recs[container]
	s.mu.Unlock()
	if !ok {
		return bus.StateUnmounted, ""
	}
	return r.state, r.mountPoint
}

// Mounted returns the buckets currently MOUNTED or DEGRADED.
func (s *Supervisor) Mounted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for name, r := range s.recs {
		if r.state == bus.StateMounted || r.state == bus.StateDegraded {
			out = append(out, name)
		}
	}
	return out
}

// Adopt registers an externally discovered mount (an orphan from a previous
// session) so it can be driven through the normal unmount path.
func (s *Supervisor) Adopt(container, mountPoint string) {
	r := s.rec(container)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == bus.StateUnmounted {
		r.mountPoint = mountPoint
		s.setState(r, container, bus.StateDegraded)
	}
}

// Reset clears a FAILED bucket back to UNMOUNTED so it can be retried.
func (s *Supervisor) Reset(container string) {
	r := s.rec(container)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == bus.StateFailed {
		r.lastErr = nil
		s.setState(r, container, bus.StateUnmounted)
	}
}

// resolveMountPoint derives the mount point for a container.
func (s *Supervisor) resolveMountPoint(container string) (string, error) {
	if s.cfg.WindowsDriveLetters && runtime.GOOS == "windows" {
		return mountpoint.AvailableDriveLetter()
	}
	return mountpoint.PathFor(s.sess.Username(), container)
}

// Logout cancels all in-flight operations, waits gracePeriod for them to
// settle, then unmounts everything still mounted.
func (s *Supervisor) Logout(ctx context.Context, gracePeriod time.Duration) error {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.recs))
	for _, r := range s.recs {
		if r.cancelOp != nil {
			cancels = append(cancels, r.cancelOp)
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	settled := make(chan struct{})
	go func() {
		// Cancelled operations finish by releasing their record mutexes.
		s.mu.Lock()
		recs := make([]*record, 0, len(s.recs))
		for _, r := range s.recs {
			recs = append(recs, r)
		}
		s.mu.Unlock()
		for _, r := range recs {
			// Acquiring each record mutex waits out its in-flight operation.
			r.mu.Lock()
			r.mu.Unlock() //nolint:staticcheck
		}
		close(settled)
	}()

	select {
	case <-settled:
	case <-time.After(gracePeriod):
	}

	return s.unmountAll(ctx)
}
