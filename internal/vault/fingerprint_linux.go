//go:build linux

package vault

import (
	"os"
	"strings"
)

// platformIdentifiers reads the DMI product UUID and the systemd machine id.
// Either may be absent (containers, stripped-down images); missing sources
// are skipped rather than failing the whole fingerprint.
func platformIdentifiers() []string {
	var parts []string
	for _, path := range []string{
		"/sys/class/dmi/id/product_uuid",
		"/etc/machine-id",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			parts = append(parts, v)
		}
	}
	return parts
}
