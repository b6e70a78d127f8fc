package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	cfg := config.GetDefaultConfig().Agent
	cfg.CacheDir = "/var/cache/haio-client"
	return New("/usr/bin/rclone", filepath.Join(t.TempDir(), "mount_agent.conf"), cfg)
}

func TestMountArgv(t *testing.T) {
	a := testAdapter(t)

	argv := a.MountArgv("haio_alice", "docs", "/home/alice/haio-alice-docs")

	require.GreaterOrEqual(t, len(argv), 3)
	assert.Equal(t, []string{"mount", "haio_alice:docs", "/home/alice/haio-alice-docs"}, argv[:3])

	joined := strings.Join(argv, " ")
	assert.Contains(t, joined, "--allow-non-empty")
	assert.Contains(t, joined, "--dir-cache-time 10s")
	assert.Contains(t, joined, "--poll-interval 1m0s")
	assert.Contains(t, joined, "--vfs-cache-mode full")
	assert.Contains(t, joined, "--vfs-cache-max-age 24h0m0s")
	assert.Contains(t, joined, "--vfs-write-back 10s")
	assert.Contains(t, joined, "--buffer-size 32M")
	assert.Contains(t, joined, "--attr-timeout 1m0s")
	assert.Contains(t, joined, "--cache-dir /var/cache/haio-client")
	assert.Contains(t, joined, "--log-level INFO")
	assert.Contains(t, joined, "--config "+a.ConfigPath())
}

func TestConfigName(t *testing.T) {
	assert.Equal(t, "haio_alice", ConfigName("alice"))
}

func TestWriteAgentConfig(t *testing.T) {
	a := testAdapter(t)

	require.NoError(t, a.WriteAgentConfig("haio_alice", "https://storage.haio.ir", "alice", "tok-1"))

	data, err := os.ReadFile(a.ConfigPath())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[haio_alice]")
	assert.Contains(t, content, "type = swift")
	assert.Contains(t, content, "auth = https://storage.haio.ir/auth/v1.0")
	assert.Contains(t, content, "user = alice")
	assert.Contains(t, content, "auth_token = tok-1")

	info, err := os.Stat(a.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteAgentConfig_ReplacesOwnEntryPreservesOthers(t *testing.T) {
	a := testAdapter(t)

	other := "[other_remote]\ntype = s3\nregion = eu-west-1\n"
	require.NoError(t, os.WriteFile(a.ConfigPath(), []byte(other), 0o600))

	require.NoError(t, a.WriteAgentConfig("haio_alice", "https://storage.haio.ir", "alice", "tok-1"))
	require.NoError(t, a.WriteAgentConfig("haio_alice", "https://storage.haio.ir", "alice", "tok-2"))

	data, err := os.ReadFile(a.ConfigPath())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[other_remote]")
	assert.Contains(t, content, "region = eu-west-1")
	assert.Contains(t, content, "auth_token = tok-2")
	assert.NotContains(t, content, "tok-1")
	assert.Equal(t, 1, strings.Count(content, "[haio_alice]"))
}

func TestHasEntry(t *testing.T) {
	a := testAdapter(t)

	assert.False(t, a.HasEntry("haio_alice"))

	require.NoError(t, a.WriteAgentConfig("haio_alice", "https://storage.haio.ir", "alice", "tok"))
	assert.True(t, a.HasEntry("haio_alice"))
	assert.False(t, a.HasEntry("haio_bob"))
}

func TestIsVolatilePath(t *testing.T) {
	assert.True(t, IsVolatilePath(filepath.Join(os.TempDir(), "extracted", "rclone")))
	assert.True(t, IsVolatilePath("/tmp/rclone"))
	assert.False(t, IsVolatilePath("/usr/bin/rclone"))
	assert.False(t, IsVolatilePath("/home/alice/bin/rclone"))
}

func TestLocate_OverrideMissing(t *testing.T) {
	_, err := Locate(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, fault.AgentNotFound, fault.KindOf(err))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.NotEmpty(t, fe.Remediation)
}

func TestLocate_Override(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "rclone")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	path, err := Locate(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, path)
}

func TestRingBuffer(t *testing.T) {
	r := newRingBuffer(8)

	_, err := r.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", r.String())

	_, err = r.Write([]byte("defghij"))
	require.NoError(t, err)
	assert.Equal(t, "cdefghij", r.String())

	_, err = r.Write([]byte("0123456789ABCDEF"))
	require.NoError(t, err)
	assert.Equal(t, "89ABCDEF", r.String())
}
