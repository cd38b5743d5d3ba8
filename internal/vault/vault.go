package vault

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-fin/securecore/internal/domain"
	"github.com/atlas-fin/securecore/pkg/memory"
)

// State is the vault lifecycle phase. RotationDue is soft: reads and writes
// are still served while rotation is pending.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateRotationDue   State = "rotation_due"
	StateRotating      State = "rotating"
)

const (
	// defaultGraceWindow bounds how long a superseded key (including the
	// legacy migration key) stays in the decrypt fallback chain.
	defaultGraceWindow = 48 * time.Hour

	// cryptoOpThreshold is the latency budget for encrypt/decrypt.
	cryptoOpThreshold = 5 * time.Millisecond

	legacyKeyID = "legacy-migration"
)

// keySlot pairs key bytes with their metadata. Fallback slots carry a
// retirement deadline after which the bytes are zeroed and dropped.
type keySlot struct {
	id       string
	key      []byte
	meta     *domain.KeyMaterial
	retireAt time.Time
}

// SecureVault derives, stores, rotates and uses a machine-bound AES-256 key
// for local secrets. Instances are explicitly constructed and initialized;
// there is no implicit global.
type SecureVault struct {
	mu sync.RWMutex

	store domain.SecretStore
	fp    domain.Fingerprinter
	sink  domain.AuditSink

	logger     *slog.Logger
	now        func() time.Time
	iterations int
	grace      time.Duration
	legacyKey  []byte

	state    State
	current  *keySlot
	fallback []*keySlot
}

// Option configures a SecureVault.
type Option func(*SecureVault)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *SecureVault) { v.logger = l }
}

// WithAuditSink mirrors vault lifecycle events into a security audit trail.
func WithAuditSink(sink domain.AuditSink) Option {
	return func(v *SecureVault) { v.sink = sink }
}

// WithNow overrides the vault's clock.
func WithNow(now func() time.Time) Option {
	return func(v *SecureVault) { v.now = now }
}

// WithIterations raises the PBKDF2 cost parameter above the floor.
func WithIterations(n int) Option {
	return func(v *SecureVault) { v.iterations = n }
}

// WithGraceWindow bounds how long superseded keys remain decryptable.
func WithGraceWindow(d time.Duration) Option {
	return func(v *SecureVault) { v.grace = d }
}

// WithLegacyKey installs the pre-rotation migration key as one time-boxed
// entry in the same fallback chain used for rotated-out keys.
func WithLegacyKey(key []byte) Option {
	return func(v *SecureVault) { v.legacyKey = append([]byte(nil), key...) }
}

// New constructs an uninitialized vault. Initialize must be called before
// any cryptographic operation.
func New(store domain.SecretStore, fp domain.Fingerprinter, opts ...Option) *SecureVault {
	v := &SecureVault{
		store:      store,
		fp:         fp,
		logger:     slog.Default(),
		now:        time.Now,
		iterations: domain.MinPBKDF2Iterations,
		grace:      defaultGraceWindow,
		state:      StateUninitialized,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Initialize loads the existing key from the secret store, generating a
// fresh one when the store is empty and rotating immediately when the
// loaded key is already due. Callers may retry once after a failure.
func (v *SecureVault) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	v.state = StateInitializing

	if err := v.initializeLocked(ctx); err != nil {
		v.state = StateUninitialized
		return err
	}

	if v.legacyKey != nil {
		v.fallback = append(v.fallback, &keySlot{
			id:       legacyKeyID,
			key:      v.legacyKey,
			retireAt: v.now().Add(v.grace),
		})
		v.legacyKey = nil
	}

	v.state = StateReady
	if err := v.appendAudit(ctx, domain.AuditEvent{
		EventType: domain.EventVaultInitialized,
		Details:   fmt.Sprintf("vault initialized, key %s", v.current.id),
		Severity:  domain.SeverityInfo,
	}); err != nil {
		return err
	}
	v.logger.InfoContext(ctx, "vault initialized", "key_id", v.current.id)
	return nil
}

func (v *SecureVault) initializeLocked(ctx context.Context) error {
	id, err := v.store.CurrentKeyID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeychainFailed, err)
	}

	if id == "" {
		slot, err := v.generateAndPersist(0)
		if err != nil {
			return err
		}
		v.current = slot
		return nil
	}

	meta, err := v.store.LoadMetadata(id)
	if err != nil {
		return fmt.Errorf("%w: load metadata for %s: %v", ErrKeychainFailed, id, err)
	}
	key, err := v.store.LoadKey(id)
	if err != nil {
		return fmt.Errorf("%w: load key %s: %v", ErrKeychainFailed, id, err)
	}
	if len(key) != derivedKeyLength {
		return fmt.Errorf("%w: key %s has invalid length %d", ErrKeychainFailed, id, len(key))
	}
	v.current = &keySlot{id: id, key: key, meta: meta}

	if meta.NeedsRotation(v.now()) {
		v.logger.WarnContext(ctx, "loaded key needs rotation", "key_id", id)
		return v.rotateLocked(ctx)
	}
	return nil
}

// Encrypt seals plaintext with the current key. Ciphertext is
// nonce || AES-256-GCM output.
func (v *SecureVault) Encrypt(plaintext []byte) ([]byte, error) {
	start := time.Now()
	defer v.logCryptoPerformance("encrypt", start)

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.current == nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, ErrVaultNotInitialized)
	}
	return sealWithKey(v.current.key, plaintext)
}

// Decrypt opens ciphertext with the current key, falling back to any
// retained prior or legacy key still inside its grace window.
func (v *SecureVault) Decrypt(ciphertext []byte) ([]byte, error) {
	start := time.Now()
	defer v.logCryptoPerformance("decrypt", start)

	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecryptionFailed)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.current == nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, ErrVaultNotInitialized)
	}
	if plaintext, err := openWithKey(v.current.key, ciphertext); err == nil {
		return plaintext, nil
	}

	now := v.now()
	for _, slot := range v.fallback {
		if now.After(slot.retireAt) {
			continue
		}
		if plaintext, err := openWithKey(slot.key, ciphertext); err == nil {
			v.logger.Warn("decrypted with superseded key", "key_id", slot.id)
			return plaintext, nil
		}
	}
	return nil, fmt.Errorf("%w: no available key matches", ErrDecryptionFailed)
}

// RotateKey generates and persists a replacement key, then swaps the
// current-key pointer and retires the old key into the fallback chain. The
// pointer flips only after the new key is durably persisted; a failure
// mid-rotation leaves the previous key current.
func (v *SecureVault) RotateKey(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == nil {
		return fmt.Errorf("%w: %v", ErrKeyRotationFailed, ErrVaultNotInitialized)
	}
	if err := v.rotateLocked(ctx); err != nil {
		return err
	}

	v.state = StateReady
	if err := v.appendAudit(ctx, domain.AuditEvent{
		EventType: domain.EventKeyRotated,
		Details: fmt.Sprintf("key rotated, generation %d, new key %s",
			v.current.meta.RotationCount, v.current.id),
		Severity: domain.SeverityInfo,
	}); err != nil {
		return err
	}
	v.logger.InfoContext(ctx, "key rotation completed", "key_id", v.current.id)
	return nil
}

func (v *SecureVault) rotateLocked(ctx context.Context) error {
	prev := v.state
	v.state = StateRotating

	old := v.current
	rotation := 0
	if old.meta != nil {
		rotation = old.meta.RotationCount + 1
	}

	// New key generation is speculative until persistence succeeds.
	slot, err := v.generateAndPersist(rotation)
	if err != nil {
		v.state = prev
		return fmt.Errorf("%w: %v", ErrKeyRotationFailed, err)
	}
	v.current = slot

	old.retireAt = v.now().Add(v.grace)
	v.fallback = append(v.fallback, old)
	v.pruneFallback()

	// The old key's stored copies go away only after the new key is the
	// durable current one; its in-memory bytes survive for the grace window.
	if err := v.store.DeleteKey(old.id); err != nil {
		v.logger.WarnContext(ctx, "failed to delete superseded key", "key_id", old.id, "error", err)
	}
	if err := v.store.DeleteMetadata(old.id); err != nil {
		v.logger.WarnContext(ctx, "failed to delete superseded metadata", "key_id", old.id, "error", err)
	}
	return nil
}

// generateAndPersist derives a fresh key, persisting key bytes, metadata
// and the current-key pointer in that order.
func (v *SecureVault) generateAndPersist(rotationCount int) (*keySlot, error) {
	fingerprint, err := v.fp.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareFingerprint, err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}
	key := deriveKey(fingerprint, salt, v.iterations)

	now := v.now()
	meta := &domain.KeyMaterial{
		KeyID:               uuid.New().String(),
		CreatedAt:           now,
		ExpiresAt:           now.Add(domain.KeyRotationPeriod),
		RotationCount:       rotationCount,
		HardwareFingerprint: fingerprint,
		DerivationSalt:      salt,
		Iterations:          v.iterations,
	}

	if err := v.store.StoreKey(meta.KeyID, key); err != nil {
		return nil, fmt.Errorf("%w: store key: %v", ErrKeychainFailed, err)
	}
	if err := v.store.StoreMetadata(meta.KeyID, meta); err != nil {
		return nil, fmt.Errorf("%w: store metadata: %v", ErrKeychainFailed, err)
	}
	if err := v.store.SetCurrentKeyID(meta.KeyID); err != nil {
		return nil, fmt.Errorf("%w: set current key id: %v", ErrKeychainFailed, err)
	}
	return &keySlot{id: meta.KeyID, key: key, meta: meta}, nil
}

// pruneFallback drops grace-expired slots, zeroing their key bytes.
func (v *SecureVault) pruneFallback() {
	now := v.now()
	kept := v.fallback[:0]
	for _, slot := range v.fallback {
		if now.After(slot.retireAt) {
			memory.SecureZeroBytes(slot.key)
			continue
		}
		kept = append(kept, slot)
	}
	v.fallback = kept
}

// NeedsKeyRotation reports whether the current key is expired or within
// the rotation-due window.
func (v *SecureVault) NeedsKeyRotation() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.current == nil || v.current.meta == nil {
		return true
	}
	return v.current.meta.NeedsRotation(v.now())
}

// State returns the lifecycle phase, reporting RotationDue when the vault
// is ready but the key is inside the due window.
func (v *SecureVault) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.state == StateReady && v.current != nil && v.current.meta != nil &&
		v.current.meta.NeedsRotation(v.now()) {
		return StateRotationDue
	}
	return v.state
}

// Metadata returns a copy of the current key's metadata, nil before
// initialization. The copy never contains key bytes.
func (v *SecureVault) Metadata() *domain.KeyMaterial {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.current == nil || v.current.meta == nil {
		return nil
	}
	cp := *v.current.meta
	cp.DerivationSalt = append([]byte(nil), v.current.meta.DerivationSalt...)
	return &cp
}

// ValidateSecurity checks the current key's configuration, returning a
// distinct error per violated requirement. An uninitialized vault has
// nothing to validate.
func (v *SecureVault) ValidateSecurity() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.current == nil || v.current.meta == nil {
		return nil
	}
	meta := v.current.meta

	if meta.Iterations < domain.MinPBKDF2Iterations {
		return fmt.Errorf("%w: %d PBKDF2 iterations below the %d floor",
			ErrKeyDerivationFailed, meta.Iterations, domain.MinPBKDF2Iterations)
	}
	if meta.IsExpired(v.now()) {
		return fmt.Errorf("%w: key expired at %s", ErrKeyRotationFailed, meta.ExpiresAt)
	}
	if len(meta.HardwareFingerprint) < 8 {
		return fmt.Errorf("%w: fingerprint shorter than 8 characters", ErrHardwareFingerprint)
	}
	return nil
}

func (v *SecureVault) appendAudit(ctx context.Context, event domain.AuditEvent) error {
	if v.sink == nil {
		return nil
	}
	if err := v.sink.Append(ctx, event); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditFailed, err)
	}
	return nil
}

func (v *SecureVault) logCryptoPerformance(op string, start time.Time) {
	if elapsed := time.Since(start); elapsed > cryptoOpThreshold {
		v.logger.Warn("vault operation exceeded latency target",
			"operation", op, "elapsed", elapsed, "target", cryptoOpThreshold)
	}
}
