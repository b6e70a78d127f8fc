package persist

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

// systemUnitDir is where system-scope units are installed (requires root).
const systemUnitDir = "/etc/systemd/system"

// Systemd installs per-bucket units. User scope is preferred; when no user
// manager is available the unit goes to the system directory via elevation.
type Systemd struct {
	adapter *agent.Adapter
	priv    PrivilegeHelper

	userUnitDir string
	sysUnitDir  string
	runCmd      func(ctx context.Context, name string, args ...string) error
}

// NewSystemd creates the Linux backend.
func NewSystemd(adapter *agent.Adapter, priv PrivilegeHelper) *Systemd {
	return &Systemd{
		adapter:     adapter,
		priv:        priv,
		userUnitDir: defaultUserUnitDir(),
		sysUnitDir:  systemUnitDir,
		runCmd:      runCommand,
	}
}

func defaultUserUnitDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "systemd", "user")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// No home means no user manager; install falls back to system scope.
		return ""
	}
	return filepath.Join(home, ".config", "systemd", "user")
}

// UnitName returns the unit file name for a bucket.
func UnitName(username, container string) string {
	return fmt.Sprintf("haio-%s-%s.service", username, container)
}

// Install writes, enables and starts the unit for a bucket.
func (s *Systemd) Install(ctx context.Context, username, container, mountPoint string) error {
	if agent.IsVolatilePath(s.adapter.Binary()) {
		return fault.Newf(fault.AgentVolatilePath,
			"mount agent at %s is in a temporary location and cannot be referenced from a boot artifact",
			s.adapter.Binary()).
			WithRemediation("install the mount agent to a permanent location such as /usr/local/bin")
	}

	unit := UnitName(username, container)

	if err := s.installUser(ctx, unit, username, container, mountPoint); err == nil {
		logger.Info("auto-mount installed",
			logger.KeyAccount, username,
			logger.KeyBucket, container,
			logger.KeyArtifact, filepath.Join(s.userUnitDir, unit))
		return nil
	} else {
		logger.Debug("user-scope unit install failed, trying system scope",
			logger.KeyArtifact, unit,
			logger.KeyError, err.Error())
	}

	return s.installSystem(ctx, unit, username, container, mountPoint)
}

func (s *Systemd) installUser(ctx context.Context, unit, username, container, mountPoint string) error {
	if err := os.MkdirAll(s.userUnitDir, 0o755); err != nil {
		return err
	}

	content := s.renderUnit(username, container, mountPoint, false)
	path := filepath.Join(s.userUnitDir, unit)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}

	if err := s.runCmd(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		_ = os.Remove(path)
		return err
	}
	if err := s.runCmd(ctx, "systemctl", "--user", "enable", "--now", unit); err != nil {
		_ = os.Remove(path)
		_ = s.runCmd(ctx, "systemctl", "--user", "daemon-reload")
		return err
	}
	return nil
}

func (s *Systemd) installSystem(ctx context.Context, unit, username, container, mountPoint string) error {
	if s.priv == nil {
		return fault.New(fault.PersistElevationFailed, "no privilege helper available for system-scope install")
	}

	content := s.renderUnit(username, container, mountPoint, true)

	// Stage the unit in a user-writable file; the elevated step moves it
	// into place and enables it.
	staged, err := os.CreateTemp("", "haio-unit-*.service")
	if err != nil {
		return fmt.Errorf("failed to stage unit file: %w", err)
	}
	stagedName := staged.Name()
	defer func() { _ = os.Remove(stagedName) }()

	if _, err := staged.WriteString(content); err != nil {
		_ = staged.Close()
		return fmt.Errorf("failed to stage unit file: %w", err)
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("failed to stage unit file: %w", err)
	}

	target := filepath.Join(s.sysUnitDir, unit)
	script := strings.Join([]string{
		fmt.Sprintf("install -m 644 %s %s", shellQuote(stagedName), shellQuote(target)),
		"systemctl daemon-reload",
		fmt.Sprintf("systemctl enable --now %s", shellQuote(unit)),
	}, " && ")

	cancelled, err := s.priv.RunElevated(ctx, "sh", "-c", script)
	if cancelled {
		return fault.New(fault.PersistUserCancelled, "elevation declined; auto-mount was not installed")
	}
	if err != nil {
		return fault.Wrap(fault.PersistElevationFailed, "system-scope unit install failed", err)
	}

	logger.Info("auto-mount installed",
		logger.KeyAccount, username,
		logger.KeyBucket, container,
		logger.KeyArtifact, target)
	return nil
}

// Remove disables, stops and deletes the unit. Absent artifacts are success.
func (s *Systemd) Remove(ctx context.Context, username, container string) error {
	unit := UnitName(username, container)

	userPath := filepath.Join(s.userUnitDir, unit)
	sysPath := filepath.Join(s.sysUnitDir, unit)

	if fileExists(userPath) {
		// Stop failures are tolerated; the unit may already be inactive.
		_ = s.runCmd(ctx, "systemctl", "--user", "disable", "--now", unit)
		if err := os.Remove(userPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove unit file: %w", err)
		}
		_ = s.runCmd(ctx, "systemctl", "--user", "daemon-reload")
	}

	if fileExists(sysPath) {
		if err := s.removeSystem(ctx, unit, sysPath); err != nil {
			return err
		}
	}

	logger.Info("auto-mount removed", logger.KeyAccount, username, logger.KeyBucket, container)
	return nil
}

func (s *Systemd) removeSystem(ctx context.Context, unit, sysPath string) error {
	manual := []string{
		fmt.Sprintf("sudo systemctl disable --now %s", unit),
		fmt.Sprintf("sudo rm %s", sysPath),
		"sudo systemctl daemon-reload",
	}

	if s.priv == nil {
		return fault.New(fault.PersistElevationFailed, "no privilege helper available for system-scope removal").
			WithRemediation(manual...)
	}

	script := strings.Join([]string{
		fmt.Sprintf("systemctl disable --now %s || true", shellQuote(unit)),
		fmt.Sprintf("rm -f %s", shellQuote(sysPath)),
		"systemctl daemon-reload",
	}, " && ")

	cancelled, err := s.priv.RunElevated(ctx, "sh", "-c", script)
	if cancelled {
		return fault.New(fault.PersistUserCancelled, "elevation declined; the auto-mount entry is still installed").
			WithRemediation(manual...)
	}
	if err != nil {
		return fault.Wrap(fault.PersistElevationFailed, "system-scope unit removal failed", err).
			WithRemediation(manual...)
	}
	return nil
}

// IsInstalled reports whether a unit exists in either scope.
func (s *Systemd) IsInstalled(username, container string) bool {
	unit := UnitName(username, container)
	return fileExists(filepath.Join(s.userUnitDir, unit)) ||
		fileExists(filepath.Join(s.sysUnitDir, unit))
}

// ListInstalled returns the containers with a unit installed for username.
func (s *Systemd) ListInstalled(username string) ([]string, error) {
	seen := map[string]bool{}
	for _, dir := range []string{s.userUnitDir, s.sysUnitDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		prefix := "haio-" + username + "-"
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".service") {
				continue
			}
			container := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".service")
			if container != "" {
				seen[container] = true
			}
		}
	}

	containers := make([]string, 0, len(seen))
	for c := range seen {
		containers = append(containers, c)
	}
	sort.Strings(containers)
	return containers, nil
}

// renderUnit produces the unit file contents. System-scope units carry a
// User= line so the mount runs as the invoking user, not root.
func (s *Systemd) renderUnit(username, container, mountPoint string, systemScope bool) string {
	argv := s.adapter.MountArgv(agent.ConfigName(username), container, mountPoint)
	execStart := shellQuote(s.adapter.Binary()) + " " + shellJoin(argv)

	cacheDir := s.adapter.CacheDir()
	execStop := fmt.Sprintf(`/bin/sh -c "fusermount -u %[1]s || umount -l %[1]s"`, shellQuote(mountPoint))

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=Haio auto-mount of %s for %s\n", container, username)
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	if systemScope {
		osUser := username
		if u, err := user.Current(); err == nil {
			osUser = u.Username
		}
		fmt.Fprintf(&b, "User=%s\n", osUser)
	}
	fmt.Fprintf(&b, "ExecStartPre=/bin/mkdir -p %s %s\n", shellQuote(mountPoint), shellQuote(cacheDir))
	fmt.Fprintf(&b, "ExecStart=%s\n", execStart)
	fmt.Fprintf(&b, "ExecStop=%s\n", execStop)
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=10\n")
	b.WriteString("StartLimitIntervalSec=60\n")
	b.WriteString("StartLimitBurst=3\n")
	b.WriteString("\n[Install]\n")
	if systemScope {
		b.WriteString("WantedBy=multi-user.target\n")
	} else {
		b.WriteString("WantedBy=default.target\n")
	}
	return b.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// shellQuote quotes a single argument for sh and systemd Exec lines.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}
