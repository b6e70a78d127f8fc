package agent

import (
	"os/exec"
	"sync"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

// outputTailSize is how much recent agent output is retained for diagnostics.
const outputTailSize = 64 << 10

// Process is a spawned mount-agent process.
type Process struct {
	cmd *exec.Cmd
	out *ringBuffer

	mu      sync.Mutex
	exited  bool
	exitErr error
}

// Spawn starts the mount agent detached from the controlling terminal, with
// stdout and stderr captured to a bounded ring buffer.
func (a *Adapter) Spawn(argv []string) (*Process, error) {
	out := newRingBuffer(outputTailSize)

	cmd := exec.Command(a.binary, argv...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.AgentCrashed, "failed to start mount agent", err)
	}

	p := &Process{cmd: cmd, out: out}
	go p.reap()

	logger.Debug("mount agent started", logger.KeyPID, p.PID())
	return p, nil
}

// reap waits for the process so it never lingers as a zombie.
func (p *Process) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	p.mu.Unlock()

	if err != nil {
		logger.Debug("mount agent exited",
			logger.KeyPID, p.cmd.Process.Pid,
			logger.KeyError, err.Error())
	}
}

// PID returns the agent process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has terminated, and with what error.
func (p *Process) Exited() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitErr
}

// Tail returns the most recent captured output.
func (p *Process) Tail() string {
	return p.out.String()
}

// Terminate asks the process to exit.
func (p *Process) Terminate() error {
	return terminateProcess(p.cmd.Process)
}

// Kill forcibly ends the process. Last resort after the unmount ladder.
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}

// ringBuffer is an io.Writer retaining the last max bytes written.
type ringBuffer struct {
	mu    sync.Mutex
	max   int
	buf   []byte
	start int
	full  bool
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max, buf: make([]byte, 0, max)}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n >= r.max {
		r.buf = append(r.buf[:0], p[n-r.max:]...)
		r.start = 0
		r.full = true
		return n, nil
	}

	for _, b := range p {
		if len(r.buf) < r.max {
			r.buf = append(r.buf, b)
			continue
		}
		r.buf[r.start] = b
		r.start = (r.start + 1) % r.max
		r.full = true
	}
	return n, nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full || r.start == 0 {
		return string(r.buf)
	}
	out := make([]byte, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	out = append(out, r.buf[:r.start]...)
	return string(out)
}
