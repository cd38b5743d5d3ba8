package domain

import "time"

// CertificatePin binds a domain to a set of expected certificate
// fingerprints. Pins are provisioned at startup from a trusted bundle and
// updated only administratively.
type CertificatePin struct {
	Domain       string     `json:"domain"`
	SHA256Pins   []string   `json:"sha256_pins"`
	BackupPins   []string   `json:"backup_pins"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastVerified *time.Time `json:"last_verified,omitempty"`
}

// Clone returns a copy safe to hand out without aliasing the pin slices.
func (p *CertificatePin) Clone() CertificatePin {
	cp := *p
	cp.SHA256Pins = append([]string(nil), p.SHA256Pins...)
	cp.BackupPins = append([]string(nil), p.BackupPins...)
	if p.LastVerified != nil {
		t := *p.LastVerified
		cp.LastVerified = &t
	}
	return cp
}
