//go:build darwin

package vault

import (
	"os/exec"
	"strings"
)

// platformIdentifiers extracts the IOPlatformUUID from the IO registry.
func platformIdentifiers() []string {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		if _, value, ok := strings.Cut(line, "="); ok {
			if v := strings.Trim(strings.TrimSpace(value), `"`); v != "" {
				return []string{v}
			}
		}
	}
	return nil
}
