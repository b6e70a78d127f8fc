package mountpoint

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// listMountTargets reads /proc/self/mounts and returns the set of mount
// target paths.
func listMountTargets() (map[string]bool, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	defer func() { _ = f.Close() }()

	targets := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		targets[unescapeMountPath(fields[1])] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	return targets, nil
}

// unescapeMountPath decodes the octal escapes /proc uses for whitespace
// in mount paths (\040 for space and friends).
func unescapeMountPath(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			var c byte
			octal := true
			for j := 1; j <= 3; j++ {
				d := s[i+j]
				if d < '0' || d > '7' {
					octal = false
					break
				}
				c = c<<3 | (d - '0')
			}
			if octal {
				b.WriteByte(c)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
