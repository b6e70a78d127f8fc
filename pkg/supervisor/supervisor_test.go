package supervisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/fault"
	"github.com/haio-cloud/haio-client/pkg/mountpoint"
)

// world is a shared fake of the kernel mount state: the classifier reads it,
// the fake agent mutates it.
type world struct {
	mu    sync.Mutex
	class map[string]mountpoint.Class
}

func newWorld() *world {
	return &world{class: make(map[string]mountpoint.Class)}
}

func (w *world) set(path string, c mountpoint.Class) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.class[path] = c
}

func (w *world) Classify(path string) mountpoint.Class {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.class[path]; ok {
		return c
	}
	return mountpoint.Absent
}

type fakeProc struct {
	mu         sync.Mutex
	exited     bool
	tail       string
	terminated bool
	killed     bool
}

func (p *fakeProc) PID() int { return 4242 }

func (p *fakeProc) Exited() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, nil
}

func (p *fakeProc) Tail() string { return p.tail }

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

type fakeAgent struct {
	w *world

	mu             sync.Mutex
	spawns         int
	unmountModes   []string
	configWrites   []string
	spawnFails     bool
	spawnCrashes   bool
	mountOnSpawn   bool
	unmountWorksAt int // ladder position after which unmount takes effect
	procs          []*fakeProc
}

func (f *fakeAgent) MountArgv(configName, container, mountPoint string) []string {
	return []string{"mount", configName + ":" + container, mountPoint}
}

func (f *fakeAgent) Spawn(argv []string) (Proc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns++

	if f.spawnFails {
		return nil, fault.New(fault.AgentCrashed, "failed to start mount agent")
	}

	p := &fakeProc{}
	if f.spawnCrashes {
		p.exited = true
		p.tail = "agent panic: boom"
	}
	if f.mountOnSpawn {
		f.w.set(argv[len(argv)-1], mountpoint.LiveMount)
	}
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeAgent) Unmount(_ context.Context, mountPoint string, mode agent.UnmountMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmountModes = append(f.unmountModes, mode.String())

	if f.unmountWorksAt >= 0 && len(f.unmountModes) > f.unmountWorksAt {
		f.w.set(mountPoint, mountpoint.EmptyDir)
	}
	return nil
}

func (f *fakeAgent) WriteAgentConfig(configName, endpoint, username, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configWrites = append(f.configWrites, configName+"|"+endpoint+"|"+username+"|"+token)
	return nil
}

type fakeSession struct{}

func (fakeSession) Username() string { return "alice" }
func (fakeSession) BaseURL() string  { return "https://storage.haio.ir" }
func (fakeSession) Token() string    { return "tok-1" }

func testConfig() config.MountsConfig {
	cfg := config.GetDefaultConfig().Mounts
	cfg.VerifyTimeout = 200 * time.Millisecond
	cfg.MountBackoff = time.Millisecond
	cfg.UnmountModeTimeout = 100 * time.Millisecond
	cfg.UnmountTotalTimeout = time.Second
	return cfg
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeAgent, *world, *bus.Bus) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	w := newWorld()
	ag := &fakeAgent{w: w, mountOnSpawn: true, unmountWorksAt: 0}
	b := bus.New()
	b.SetBuckets([]bus.BucketVM{{Name: "docs"}})

	return New(testConfig(), ag, w, b, fakeSession{}), ag, w, b
}

func mountPointOf(t *testing.T, container string) string {
	t.Helper()
	mp, err := mountpoint.PathFor("alice", container)
	require.NoError(t, err)
	return mp
}

func TestMount_Success(t *testing.T) {
	s, ag, w, b := newTestSupervisor(t)

	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-1"))

	state, mp := s.State("docs")
	assert.Equal(t, bus.StateMounted, state)
	assert.Equal(t, mountPointOf(t, "docs"), mp)
	assert.Equal(t, mountpoint.LiveMount, w.Classify(mp))

	require.Len(t, ag.configWrites, 1)
	assert.Equal(t, "haio_alice|https://storage.haio.ir|alice|tok-1", ag.configWrites[0])

	vm, ok := b.Get("docs")
	require.True(t, ok)
	assert.Equal(t, bus.StateMounted, vm.MountState)
	assert.False(t, vm.Busy)
}

func TestMount_LiveMountIsIdempotent(t *testing.T) {
	s, ag, w, _ := newTestSupervisor(t)
	w.set(mountPointOf(t, "docs"), mountpoint.LiveMount)

	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-1"))

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateMounted, state)
	assert.Zero(t, ag.spawns)
}

func TestMount_NotEmptyDirFails(t *testing.T) {
	s, ag, w, _ := newTestSupervisor(t)
	w.set(mountPointOf(t, "docs"), mountpoint.NonEmptyDir)

	err := s.Mount(context.Background(), "docs", "cmd-1")
	require.Error(t, err)
	assert.Equal(t, fault.MountPointNotEmpty, fault.KindOf(err))
	assert.Zero(t, ag.spawns)

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateFailed, state)

	// FAILED is terminal until Reset.
	err2 := s.Mount(context.Background(), "docs", "cmd-2")
	assert.Equal(t, err, err2)

	s.Reset("docs")
	state, _ = s.State("docs")
	assert.Equal(t, bus.StateUnmounted, state)
}

func TestMount_CleansStaleMountFirst(t *testing.T) {
	s, ag, w, b := newTestSupervisor(t)
	w.set(mountPointOf(t, "docs"), mountpoint.StaleMount)

	events, cancel := b.Subscribe()
	defer cancel()

	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-1"))

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateMounted, state)
	require.NotEmpty(t, ag.unmountModes)
	assert.Equal(t, "graceful", ag.unmountModes[0])
	assert.Equal(t, 1, ag.spawns)

	// The recovery is announced on the status bar.
	var recovered bool
	for {
		var done bool
		select {
		case ev := <-events:
			if ev.Type == bus.EventStatusMessage && strings.Contains(ev.Message, "stale mount") {
				recovered = true
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	assert.True(t, recovered)
}

func TestMount_CancelledMidVerifyAbortsAndTerminatesAgent(t *testing.T) {
	s, ag, _, _ := newTestSupervisor(t)
	ag.mountOnSpawn = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Mount(ctx, "docs", "cmd-1") }()

	require.Eventually(t, func() bool {
		ag.mu.Lock()
		defer ag.mu.Unlock()
		return ag.spawns >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	// The spawned agent does not outlive the cancelled operation.
	require.NotEmpty(t, ag.procs)
	assert.True(t, ag.procs[0].terminated)

	// Cancellation unwinds to UNMOUNTED rather than latching FAILED, so the
	// bucket stays mountable without a Reset.
	state, _ := s.State("docs")
	assert.Equal(t, bus.StateUnmounted, state)
	assert.Empty(t, s.Mounted())

	ag.mountOnSpawn = true
	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-2"))
}

func TestMount_SimultaneousRequestsMountOnce(t *testing.T) {
	s, ag, _, _ := newTestSupervisor(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Mount(context.Background(), "docs", "")
		}(i)
	}
	wg.Wait()

	// The record mutex serializes the two requests; the second one finds the
	// bucket MOUNTED and succeeds without its own attempt.
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, ag.spawns)

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateMounted, state)
}

func TestMount_VerifyTimeoutRetriesThenFails(t *testing.T) {
	s, ag, _, _ := newTestSupervisor(t)
	ag.mountOnSpawn = false

	err := s.Mount(context.Background(), "docs", "cmd-1")
	require.Error(t, err)
	assert.Equal(t, fault.MountVerifyTimeout, fault.KindOf(err))
	assert.Equal(t, config.DefaultMountAttempts, ag.spawns)

	// Each failed attempt's agent was asked to exit.
	for _, p := range ag.procs {
		assert.True(t, p.terminated)
	}

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateFailed, state)
}

func TestMount_AgentCrashSurfacesTail(t *testing.T) {
	s, ag, _, _ := newTestSupervisor(t)
	ag.mountOnSpawn = false
	ag.spawnCrashes = true

	err := s.Mount(context.Background(), "docs", "cmd-1")
	require.Error(t, err)
	assert.Equal(t, fault.AgentCrashed, fault.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestUnmount_Success(t *testing.T) {
	s, ag, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-1"))

	require.NoError(t, s.Unmount(context.Background(), "docs", "cmd-2"))

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateUnmounted, state)
	assert.Equal(t, []string{"graceful"}, ag.unmountModes)
}

func TestUnmount_WhenUnmountedIsSuccess(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Unmount(context.Background(), "docs", "cmd-1"))
}

func TestUnmount_FallsThroughLadder(t *testing.T) {
	s, ag, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-1"))

	// Graceful and forced leave the mount pinned; lazy succeeds.
	ag.unmountWorksAt = 2
	ag.unmountModes = nil

	require.NoError(t, s.Unmount(context.Background(), "docs", "cmd-2"))
	assert.Equal(t, []string{"graceful", "forced", "lazy"}, ag.unmountModes)
}

func TestHealthProbe_DegradesAndPrompts(t *testing.T) {
	s, _, w, b := newTestSupervisor(t)
	require.NoError(t, s.Mount(context.Background(), "docs", "cmd-1"))

	events, cancel := b.Subscribe()
	defer cancel()

	w.set(mountPointOf(t, "docs"), mountpoint.StaleMount)
	s.probeAll(context.Background())

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateDegraded, state)

	var prompted bool
	for {
		var done bool
		select {
		case ev := <-events:
			if ev.Type == bus.EventPrompt && ev.PromptKind == PromptDegraded {
				prompted = true
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	assert.True(t, prompted)
}

func TestMounted(t *testing.T) {
	s, _, _, b := newTestSupervisor(t)
	b.SetBuckets([]bus.BucketVM{{Name: "docs"}, {Name: "media"}})

	require.NoError(t, s.Mount(context.Background(), "docs", ""))
	assert.Equal(t, []string{"docs"}, s.Mounted())
}

func TestLogout_UnmountsEverything(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Mount(context.Background(), "docs", ""))

	require.NoError(t, s.Logout(context.Background(), 100*time.Millisecond))

	state, _ := s.State("docs")
	assert.Equal(t, bus.StateUnmounted, state)
	assert.Empty(t, s.Mounted())
}
