package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
)

// HostFingerprinter reduces stable platform identifiers to one machine-bound
// fingerprint. Identifier collection is per-OS (see the build-tagged files);
// the primary non-loopback interface name is mixed in on every platform and
// the hostname is the last resort before failing hard.
type HostFingerprinter struct{}

// NewHostFingerprinter returns the platform fingerprinter.
func NewHostFingerprinter() *HostFingerprinter {
	return &HostFingerprinter{}
}

// Fingerprint collects identifiers and hashes them. Key derivation must stay
// machine-bound, so an empty identifier set is a hard failure.
func (f *HostFingerprinter) Fingerprint() (string, error) {
	parts := platformIdentifiers()

	if name := primaryInterfaceName(); name != "" {
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		if hostname, err := os.Hostname(); err == nil && hostname != "" {
			parts = append(parts, hostname)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no platform identifiers obtainable", ErrHardwareFingerprint)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// primaryInterfaceName returns the name of the first non-loopback interface
// carrying a hardware address.
func primaryInterfaceName() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.Name
	}
	return ""
}

// StaticFingerprinter returns a fixed fingerprint; used by tests and by
// deployments that manage machine identity externally.
type StaticFingerprinter string

func (s StaticFingerprinter) Fingerprint() (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty static fingerprint", ErrHardwareFingerprint)
	}
	return string(s), nil
}
