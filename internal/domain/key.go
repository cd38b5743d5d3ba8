package domain

import "time"

const (
	// KeyRotationPeriod is the lifetime of a derived vault key.
	KeyRotationPeriod = 30 * 24 * time.Hour
	// KeyRotationDueWindow is how long before expiry rotation becomes due.
	KeyRotationDueWindow = 5 * 24 * time.Hour
	// MinPBKDF2Iterations is the floor for the derivation cost parameter.
	MinPBKDF2Iterations = 100_000
)

// KeyMaterial is the metadata for one machine-bound vault key. It never
// contains raw key bytes; those live in the secret store under KeyID.
type KeyMaterial struct {
	KeyID               string    `json:"key_id"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	RotationCount       int       `json:"rotation_count"`
	HardwareFingerprint string    `json:"hardware_fingerprint"`
	DerivationSalt      []byte    `json:"derivation_salt"`
	Iterations          int       `json:"iterations"`
}

// IsExpired reports whether the key has outlived its rotation period.
func (m *KeyMaterial) IsExpired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// NeedsRotation is true once the key is expired or within the due window.
func (m *KeyMaterial) NeedsRotation(now time.Time) bool {
	return m.IsExpired(now) || now.Add(KeyRotationDueWindow).After(m.ExpiresAt)
}

// SecretStore is OS-level secret storage addressed by an opaque key id.
// Key bytes and key metadata are stored as separate entries.
type SecretStore interface {
	StoreKey(id string, key []byte) error
	LoadKey(id string) ([]byte, error)
	DeleteKey(id string) error

	StoreMetadata(id string, meta *KeyMaterial) error
	LoadMetadata(id string) (*KeyMaterial, error)
	DeleteMetadata(id string) error

	// CurrentKeyID returns the id of the active key, empty when the
	// store has never been initialized.
	CurrentKeyID() (string, error)
	SetCurrentKeyID(id string) error
}

// Fingerprinter collects stable platform identifiers and reduces them to a
// machine-bound fingerprint string.
type Fingerprinter interface {
	Fingerprint() (string, error)
}
