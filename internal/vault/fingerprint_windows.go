//go:build windows

package vault

import (
	"os/exec"
	"strings"
)

// platformIdentifiers reads the SMBIOS product UUID via wmic.
func platformIdentifiers() []string {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(out), "\n") {
		v := strings.TrimSpace(line)
		if v == "" || strings.EqualFold(v, "UUID") {
			continue
		}
		return []string{v}
	}
	return nil
}
