package pinning

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atlas-fin/securecore/internal/domain"
)

// pinLength is the exact length of a formatted pin: 32 hex pairs joined by
// 31 colons.
const pinLength = 95

// pinExpiryHorizon is how far ahead CheckPinExpiration looks.
const pinExpiryHorizon = 30 * 24 * time.Hour

// Fingerprint hashes a DER certificate and formats it as colon-separated
// uppercase hex pairs, the same shape operators paste from openssl output.
func Fingerprint(certDER []byte) string {
	sum := sha256.Sum256(certDER)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// IsValidPinFormat reports whether s is exactly 32 colon-separated
// uppercase two-hex-digit groups, the shape Fingerprint produces. Matching
// is exact string comparison, so any other casing can never verify.
func IsValidPinFormat(s string) bool {
	if len(s) != pinLength {
		return false
	}
	groups := strings.Split(s, ":")
	if len(groups) != 32 {
		return false
	}
	for _, g := range groups {
		if len(g) != 2 || !isHexDigit(g[0]) || !isHexDigit(g[1]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'F'
}

// Report summarizes the pin store for operators.
type Report struct {
	TotalPins       int
	ExpiredPins     int
	ExpiringSoon    int
	Recommendations []string
	SecurityScore   int
}

// PinStore holds the per-domain certificate pins. The set is provisioned at
// startup from a trusted bundle and changed only administratively.
type PinStore struct {
	mu     sync.RWMutex
	pins   map[string]*domain.CertificatePin
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a PinStore.
type StoreOption func(*PinStore)

// WithStoreLogger sets the structured logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *PinStore) { s.logger = l }
}

// WithStoreNow overrides the store's clock.
func WithStoreNow(now func() time.Time) StoreOption {
	return func(s *PinStore) { s.now = now }
}

// NewPinStore creates a store seeded with the given bundle. Malformed pins
// in the bundle are rejected.
func NewPinStore(bundle []domain.CertificatePin, opts ...StoreOption) (*PinStore, error) {
	s := &PinStore{
		pins:   make(map[string]*domain.CertificatePin, len(bundle)),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range bundle {
		if err := s.AddPin(bundle[i]); err != nil {
			return nil, fmt.Errorf("pin bundle entry %q: %w", bundle[i].Domain, err)
		}
	}
	return s, nil
}

// AddPin registers a pin set for a domain after validating every entry.
func (s *PinStore) AddPin(pin domain.CertificatePin) error {
	for _, p := range pin.SHA256Pins {
		if !IsValidPinFormat(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPin, p)
		}
	}
	for _, p := range pin.BackupPins {
		if !IsValidPinFormat(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPin, p)
		}
	}

	cp := pin.Clone()
	s.mu.Lock()
	s.pins[pin.Domain] = &cp
	s.mu.Unlock()

	s.logger.Info("certificate pin added", "domain", pin.Domain,
		"primary_pins", len(pin.SHA256Pins), "backup_pins", len(pin.BackupPins))
	return nil
}

// UpdatePin replaces the pin set for an already provisioned domain.
func (s *PinStore) UpdatePin(domainName string, pin domain.CertificatePin) error {
	s.mu.RLock()
	_, ok := s.pins[domainName]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPinForDomain, domainName)
	}

	pin.Domain = domainName
	if err := s.AddPin(pin); err != nil {
		return err
	}
	s.logger.Info("certificate pin updated", "domain", domainName)
	return nil
}

// Pin returns a copy of the pin set for a domain.
func (s *PinStore) Pin(domainName string) (domain.CertificatePin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pin, ok := s.pins[domainName]
	if !ok {
		return domain.CertificatePin{}, false
	}
	return pin.Clone(), true
}

// VerifyPin checks a DER certificate against the domain's pins. A primary
// match verifies cleanly; a backup match verifies with a
// rotation-in-progress warning; anything else fails and must abort the
// connection.
func (s *PinStore) VerifyPin(domainName string, certDER []byte) (bool, error) {
	observed := Fingerprint(certDER)

	s.mu.Lock()
	defer s.mu.Unlock()

	pin, ok := s.pins[domainName]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoPinForDomain, domainName)
	}

	for _, p := range pin.SHA256Pins {
		if p == observed {
			now := s.now()
			pin.LastVerified = &now
			return true, nil
		}
	}
	for _, p := range pin.BackupPins {
		if p == observed {
			now := s.now()
			pin.LastVerified = &now
			s.logger.Warn("certificate matched backup pin, rotation in progress",
				"domain", domainName)
			return true, nil
		}
	}

	s.logger.Error("certificate pin mismatch", "domain", domainName, "observed", observed)
	return false, fmt.Errorf("%w: %s", ErrPinVerification, domainName)
}

// CheckPinExpiration lists domains whose pins expire within 30 days. This
// is a maintenance signal only; expired pins still verify.
func (s *PinStore) CheckPinExpiration() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	horizon := s.now().Add(pinExpiryHorizon)
	var due []string
	for name, pin := range s.pins {
		if pin.ExpiresAt.Before(horizon) {
			due = append(due, name)
		}
	}
	return due
}

// Report summarizes pin health with operator recommendations.
func (s *PinStore) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	horizon := now.Add(pinExpiryHorizon)
	r := Report{TotalPins: len(s.pins)}
	for _, pin := range s.pins {
		switch {
		case !pin.ExpiresAt.After(now):
			r.ExpiredPins++
		case pin.ExpiresAt.Before(horizon):
			r.ExpiringSoon++
		}
	}

	if r.ExpiredPins > 0 {
		r.Recommendations = append(r.Recommendations, "renew expired certificate pins immediately")
	}
	if r.ExpiringSoon > 0 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("plan renewal for %d pins expiring within 30 days", r.ExpiringSoon))
	}
	if r.TotalPins == 0 {
		r.Recommendations = append(r.Recommendations, "add certificate pins for all external API endpoints")
	}

	if r.TotalPins > 0 {
		healthy := r.TotalPins - r.ExpiredPins - r.ExpiringSoon
		r.SecurityScore = healthy * 100 / r.TotalPins
	}
	return r
}
