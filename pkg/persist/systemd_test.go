package persist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

type fakePriv struct {
	cancelled bool
	err       error
	scripts   []string
}

func (f *fakePriv) RunElevated(_ context.Context, name string, args ...string) (bool, error) {
	f.scripts = append(f.scripts, name+" "+strings.Join(args, " "))
	return f.cancelled, f.err
}

type cmdRecorder struct {
	calls []string
	fail  map[string]bool
}

func (r *cmdRecorder) run(_ context.Context, name string, args ...string) error {
	line := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, line)
	for prefix := range r.fail {
		if strings.HasPrefix(line, prefix) {
			return os.ErrPermission
		}
	}
	return nil
}

func newTestSystemd(t *testing.T, binary string) (*Systemd, *cmdRecorder, *fakePriv) {
	t.Helper()

	adapter := agent.New(binary, filepath.Join(t.TempDir(), "mount_agent.conf"),
		config.GetDefaultConfig().Agent)

	rec := &cmdRecorder{fail: map[string]bool{}}
	priv := &fakePriv{}

	s := NewSystemd(adapter, priv)
	s.userUnitDir = filepath.Join(t.TempDir(), "user-units")
	s.sysUnitDir = t.TempDir()
	s.runCmd = rec.run
	return s, rec, priv
}

func TestUnitName(t *testing.T) {
	assert.Equal(t, "haio-alice-docs.service", UnitName("alice", "docs"))
}

func TestSystemdInstall_UserScope(t *testing.T) {
	s, rec, _ := newTestSystemd(t, "/usr/bin/rclone")

	require.NoError(t, s.Install(context.Background(), "alice", "docs", "/home/alice/haio-alice-docs"))

	data, err := os.ReadFile(filepath.Join(s.userUnitDir, "haio-alice-docs.service"))
	require.NoError(t, err)
	unit := string(data)

	assert.Contains(t, unit, "After=network-online.target")
	assert.Contains(t, unit, "Wants=network-online.target")
	assert.Contains(t, unit, "Type=simple")
	assert.Contains(t, unit, "ExecStart=/usr/bin/rclone mount haio_alice:docs /home/alice/haio-alice-docs")
	assert.Contains(t, unit, "ExecStop=")
	assert.Contains(t, unit, "fusermount -u")
	assert.Contains(t, unit, "umount -l")
	assert.Contains(t, unit, "Restart=on-failure")
	assert.Contains(t, unit, "RestartSec=10")
	assert.Contains(t, unit, "StartLimitIntervalSec=60")
	assert.Contains(t, unit, "StartLimitBurst=3")
	assert.Contains(t, unit, "WantedBy=default.target")
	assert.NotContains(t, unit, "User=")

	assert.Contains(t, rec.calls, "systemctl --user daemon-reload")
	assert.Contains(t, rec.calls, "systemctl --user enable --now haio-alice-docs.service")

	assert.True(t, s.IsInstalled("alice", "docs"))
}

func TestSystemdInstall_VolatileAgentPathRefused(t *testing.T) {
	s, _, _ := newTestSystemd(t, "/tmp/extracted/rclone")

	err := s.Install(context.Background(), "alice", "docs", "/home/alice/haio-alice-docs")
	require.Error(t, err)
	assert.Equal(t, fault.AgentVolatilePath, fault.KindOf(err))
	assert.False(t, s.IsInstalled("alice", "docs"))
}

func TestSystemdInstall_FallsBackToSystemScope(t *testing.T) {
	s, rec, priv := newTestSystemd(t, "/usr/bin/rclone")
	rec.fail["systemctl --user"] = true

	require.NoError(t, s.Install(context.Background(), "alice", "docs", "/home/alice/haio-alice-docs"))

	// The user-scope unit must not linger after the fallback.
	assert.NoFileExists(t, filepath.Join(s.userUnitDir, "haio-alice-docs.service"))

	require.Len(t, priv.scripts, 1)
	assert.Contains(t, priv.scripts[0], "systemctl daemon-reload")
	assert.Contains(t, priv.scripts[0], "enable --now haio-alice-docs.service")
}

func TestSystemdInstall_ElevationCancelled(t *testing.T) {
	s, rec, priv := newTestSystemd(t, "/usr/bin/rclone")
	rec.fail["systemctl --user"] = true
	priv.cancelled = true

	err := s.Install(context.Background(), "alice", "docs", "/home/alice/haio-alice-docs")
	require.Error(t, err)
	assert.Equal(t, fault.PersistUserCancelled, fault.KindOf(err))
}

func TestSystemdRemove_AbsentIsSuccess(t *testing.T) {
	s, _, _ := newTestSystemd(t, "/usr/bin/rclone")
	require.NoError(t, s.Remove(context.Background(), "alice", "docs"))
}

func TestSystemdRemove_UserScope(t *testing.T) {
	s, rec, _ := newTestSystemd(t, "/usr/bin/rclone")
	require.NoError(t, s.Install(context.Background(), "alice", "docs", "/home/alice/haio-alice-docs"))

	require.NoError(t, s.Remove(context.Background(), "alice", "docs"))

	assert.False(t, s.IsInstalled("alice", "docs"))
	assert.Contains(t, rec.calls, "systemctl --user disable --now haio-alice-docs.service")

	// Converges when called again.
	require.NoError(t, s.Remove(context.Background(), "alice", "docs"))
}

func TestSystemdRemove_SystemScopeCancelledCarriesManualCommands(t *testing.T) {
	s, _, priv := newTestSystemd(t, "/usr/bin/rclone")
	priv.cancelled = true

	sysPath := filepath.Join(s.sysUnitDir, "haio-alice-docs.service")
	require.NoError(t, os.WriteFile(sysPath, []byte("[Unit]\n"), 0o644))

	err := s.Remove(context.Background(), "alice", "docs")
	require.Error(t, err)
	assert.Equal(t, fault.PersistUserCancelled, fault.KindOf(err))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	require.NotEmpty(t, fe.Remediation)
	assert.Contains(t, strings.Join(fe.Remediation, "\n"), "sudo rm "+sysPath)
	assert.Contains(t, strings.Join(fe.Remediation, "\n"), "daemon-reload")
}

func TestSystemdRenderUnit_SystemScope(t *testing.T) {
	s, _, _ := newTestSystemd(t, "/usr/bin/rclone")

	unit := s.renderUnit("alice", "docs", "/home/alice/haio-alice-docs", true)
	assert.Contains(t, unit, "User=")
	assert.Contains(t, unit, "WantedBy=multi-user.target")
}

func TestSystemdListInstalled(t *testing.T) {
	s, _, _ := newTestSystemd(t, "/usr/bin/rclone")

	require.NoError(t, s.Install(context.Background(), "alice", "media", "/home/alice/haio-alice-media"))
	require.NoError(t, s.Install(context.Background(), "alice", "docs", "/home/alice/haio-alice-docs"))
	require.NoError(t, s.Install(context.Background(), "bob", "stuff", "/home/bob/haio-bob-stuff"))

	containers, err := s.ListInstalled("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "media"}, containers)
}
