package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// configMu serializes writes to the shared agent config file.
var configMu sync.Mutex

// ConfigName returns the agent config entry name for an account.
func ConfigName(username string) string {
	return "haio_" + username
}

// WriteAgentConfig writes or replaces the config entry for configName,
// preserving any other entries in the file. The write is atomic
// (write-tempfile-then-rename) and the file is user-readable only.
func (a *Adapter) WriteAgentConfig(configName, endpoint, username, token string) error {
	configMu.Lock()
	defer configMu.Unlock()

	existing, err := os.ReadFile(a.configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read agent config: %w", err)
	}

	var b strings.Builder
	b.WriteString(stripSection(string(existing), configName))
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n\n") {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "[%s]\n", configName)
	b.WriteString("type = swift\n")
	fmt.Fprintf(&b, "auth = %s\n", strings.TrimRight(endpoint, "/")+"/auth/v1.0")
	fmt.Fprintf(&b, "user = %s\n", username)
	fmt.Fprintf(&b, "auth_token = %s\n", token)

	return atomicWrite(a.configPath, []byte(b.String()))
}

// HasEntry reports whether the config file contains a section for configName.
func (a *Adapter) HasEntry(configName string) bool {
	configMu.Lock()
	defer configMu.Unlock()

	data, err := os.ReadFile(a.configPath)
	if err != nil {
		return false
	}
	header := "[" + configName + "]"
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == header {
			return true
		}
	}
	return false
}

// stripSection returns content with the named section (header through the
// next header or EOF) removed. Other sections pass through verbatim.
func stripSection(content, name string) string {
	if content == "" {
		return ""
	}

	header := "[" + name + "]"
	var out []string
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			skipping = trimmed == header
		}
		if !skipping {
			out = append(out, line)
		}
	}

	joined := strings.TrimRight(strings.Join(out, "\n"), "\n")
	if joined == "" {
		return ""
	}
	return joined + "\n\n"
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".agentconf-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write agent config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod agent config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close agent config: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace agent config: %w", err)
	}
	return nil
}
