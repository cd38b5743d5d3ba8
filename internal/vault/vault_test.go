package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-fin/securecore/internal/domain"
)

const testFingerprint = "deterministic-test-fingerprint"

// Low iteration counts keep the suite fast; ValidateSecurity tests use the
// real floor explicitly.
const testIterations = 1_000

type vaultClock struct {
	mu sync.Mutex
	t  time.Time
}

func newVaultClock() *vaultClock {
	return &vaultClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *vaultClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *vaultClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestVault(t *testing.T, opts ...Option) (*SecureVault, *MemoryStore, *vaultClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := newVaultClock()
	base := []Option{
		WithNow(clock.Now),
		WithIterations(testIterations),
	}
	v := New(store, StaticFingerprinter(testFingerprint), append(base, opts...)...)
	require.NoError(t, v.Initialize(context.Background()))
	return v, store, clock
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, _, _ := newTestVault(t)

	plaintexts := [][]byte{
		[]byte("account balance: 1234.56"),
		[]byte(""),
		make([]byte, 4096),
	}
	for _, pt := range plaintexts {
		ct, err := v.Encrypt(pt)
		require.NoError(t, err)
		assert.NotEqual(t, pt, ct)

		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	v, _, _ := newTestVault(t)

	pt := []byte("same plaintext")
	a, err := v.Encrypt(pt)
	require.NoError(t, err)
	b, err := v.Encrypt(pt)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per encryption")
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	v, _, _ := newTestVault(t)

	_, err := v.Decrypt([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v, _, _ := newTestVault(t)

	ct, err := v.Encrypt([]byte("payload"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF

	_, err = v.Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestUninitializedVaultRefusesCrypto(t *testing.T) {
	v := New(NewMemoryStore(), StaticFingerprinter(testFingerprint))

	_, err := v.Encrypt([]byte("x"))
	assert.ErrorIs(t, err, ErrEncryptionFailed)
	_, err = v.Decrypt(make([]byte, 64))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Equal(t, StateUninitialized, v.State())
}

func TestInitializeTwice(t *testing.T) {
	v, _, _ := newTestVault(t)
	assert.ErrorIs(t, v.Initialize(context.Background()), ErrAlreadyInitialized)
}

func TestInitializeLoadsPersistedKey(t *testing.T) {
	v, store, clock := newTestVault(t)
	first := v.Metadata()
	require.NotNil(t, first)

	ct, err := v.Encrypt([]byte("survives restart"))
	require.NoError(t, err)

	// A second vault over the same store picks up the same key.
	v2 := New(store, StaticFingerprinter(testFingerprint),
		WithNow(clock.Now), WithIterations(testIterations))
	require.NoError(t, v2.Initialize(context.Background()))
	assert.Equal(t, first.KeyID, v2.Metadata().KeyID)

	got, err := v2.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives restart"), got)
}

func TestInitializeRotatesExpiredKey(t *testing.T) {
	v, store, clock := newTestVault(t)
	firstID := v.Metadata().KeyID

	clock.Advance(domain.KeyRotationPeriod + time.Hour)

	v2 := New(store, StaticFingerprinter(testFingerprint),
		WithNow(clock.Now), WithIterations(testIterations))
	require.NoError(t, v2.Initialize(context.Background()))
	assert.NotEqual(t, firstID, v2.Metadata().KeyID)
	assert.Equal(t, StateReady, v2.State())
}

func TestRotateKey(t *testing.T) {
	v, _, _ := newTestVault(t)

	oldCT, err := v.Encrypt([]byte("pre-rotation secret"))
	require.NoError(t, err)
	oldID := v.Metadata().KeyID

	require.NoError(t, v.RotateKey(context.Background()))

	meta := v.Metadata()
	assert.NotEqual(t, oldID, meta.KeyID)
	assert.Equal(t, 1, meta.RotationCount)

	// Old ciphertext still decrypts through the grace-window fallback.
	got, err := v.Decrypt(oldCT)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation secret"), got)

	// New ciphertext decrypts under the current key alone.
	newCT, err := v.Encrypt([]byte("post-rotation secret"))
	require.NoError(t, err)
	got, err = v.Decrypt(newCT)
	require.NoError(t, err)
	assert.Equal(t, []byte("post-rotation secret"), got)
}

func TestRotatedKeyExpiresAfterGraceWindow(t *testing.T) {
	v, _, clock := newTestVault(t, WithGraceWindow(time.Hour))

	oldCT, err := v.Encrypt([]byte("short-lived"))
	require.NoError(t, err)
	require.NoError(t, v.RotateKey(context.Background()))

	_, err = v.Decrypt(oldCT)
	require.NoError(t, err, "inside the grace window")

	clock.Advance(2 * time.Hour)
	_, err = v.Decrypt(oldCT)
	assert.ErrorIs(t, err, ErrDecryptionFailed, "past the grace window")
}

func TestRotationFailureKeepsCurrentKey(t *testing.T) {
	store := NewMemoryStore()
	clock := newVaultClock()
	fp := &flakyFingerprinter{value: testFingerprint}
	v := New(store, fp, WithNow(clock.Now), WithIterations(testIterations))
	require.NoError(t, v.Initialize(context.Background()))

	ct, err := v.Encrypt([]byte("stable"))
	require.NoError(t, err)
	oldID := v.Metadata().KeyID

	fp.fail = true
	err = v.RotateKey(context.Background())
	require.ErrorIs(t, err, ErrKeyRotationFailed)

	// The previous key is still current and still serves traffic.
	assert.Equal(t, oldID, v.Metadata().KeyID)
	got, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("stable"), got)
}

func TestLegacyKeyFallback(t *testing.T) {
	legacy := make([]byte, derivedKeyLength)
	for i := range legacy {
		legacy[i] = byte(i)
	}
	legacyCT, err := sealWithKey(legacy, []byte("pre-migration data"))
	require.NoError(t, err)

	v, _, clock := newTestVault(t, WithLegacyKey(legacy), WithGraceWindow(time.Hour))

	got, err := v.Decrypt(legacyCT)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-migration data"), got)

	// The legacy key is time-boxed like any other fallback entry.
	clock.Advance(2 * time.Hour)
	_, err = v.Decrypt(legacyCT)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNeedsKeyRotation(t *testing.T) {
	v, _, clock := newTestVault(t)
	assert.False(t, v.NeedsKeyRotation())
	assert.Equal(t, StateReady, v.State())

	// Inside the due window but not expired: rotation due, still serving.
	clock.Advance(domain.KeyRotationPeriod - 2*24*time.Hour)
	assert.True(t, v.NeedsKeyRotation())
	assert.Equal(t, StateRotationDue, v.State())

	_, err := v.Encrypt([]byte("still works"))
	assert.NoError(t, err)
}

func TestValidateSecurity(t *testing.T) {
	t.Run("uninitialized has nothing to validate", func(t *testing.T) {
		v := New(NewMemoryStore(), StaticFingerprinter(testFingerprint))
		assert.NoError(t, v.ValidateSecurity())
	})

	t.Run("weak iterations", func(t *testing.T) {
		v, _, _ := newTestVault(t)
		err := v.ValidateSecurity()
		assert.ErrorIs(t, err, ErrKeyDerivationFailed)
	})

	t.Run("expired key", func(t *testing.T) {
		store := NewMemoryStore()
		clock := newVaultClock()
		v := New(store, StaticFingerprinter(testFingerprint), WithNow(clock.Now))
		require.NoError(t, v.Initialize(context.Background()))

		clock.Advance(domain.KeyRotationPeriod + time.Hour)
		err := v.ValidateSecurity()
		assert.ErrorIs(t, err, ErrKeyRotationFailed)
	})

	t.Run("short fingerprint", func(t *testing.T) {
		v := New(NewMemoryStore(), StaticFingerprinter("short"))
		require.NoError(t, v.Initialize(context.Background()))
		err := v.ValidateSecurity()
		assert.ErrorIs(t, err, ErrHardwareFingerprint)
	})

	t.Run("healthy", func(t *testing.T) {
		v := New(NewMemoryStore(), StaticFingerprinter(testFingerprint))
		require.NoError(t, v.Initialize(context.Background()))
		assert.NoError(t, v.ValidateSecurity())
	})
}

func TestMetadataNeverExposesKeyBytes(t *testing.T) {
	v, _, _ := newTestVault(t)

	meta := v.Metadata()
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.KeyID)
	assert.Len(t, meta.DerivationSalt, 32)
	assert.Equal(t, testIterations, meta.Iterations)

	// Mutating the copy must not reach the vault.
	meta.DerivationSalt[0] ^= 0xFF
	assert.NotEqual(t, meta.DerivationSalt[0], v.Metadata().DerivationSalt[0])
}

func TestVaultAuditEvents(t *testing.T) {
	sink := &capturingSink{}
	store := NewMemoryStore()
	v := New(store, StaticFingerprinter(testFingerprint),
		WithIterations(testIterations), WithAuditSink(sink))

	require.NoError(t, v.Initialize(context.Background()))
	require.NoError(t, v.RotateKey(context.Background()))

	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventVaultInitialized, sink.events[0].EventType)
	assert.Equal(t, domain.EventKeyRotated, sink.events[1].EventType)
}

type flakyFingerprinter struct {
	value string
	fail  bool
}

func (f *flakyFingerprinter) Fingerprint() (string, error) {
	if f.fail {
		return "", ErrHardwareFingerprint
	}
	return f.value, nil
}

type capturingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *capturingSink) Append(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}
