package pinning

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-fin/securecore/internal/domain"
)

func pinFromDER(der []byte) string {
	return Fingerprint(der)
}

func TestFingerprintFormat(t *testing.T) {
	fp := Fingerprint([]byte("certificate bytes"))
	assert.Len(t, fp, 95)
	assert.True(t, IsValidPinFormat(fp))
	assert.Equal(t, strings.ToUpper(fp), fp)
}

func TestIsValidPinFormat(t *testing.T) {
	valid := Fingerprint([]byte("x"))

	cases := []struct {
		name string
		pin  string
		ok   bool
	}{
		{"valid", valid, true},
		{"lowercase rejected", strings.ToLower(valid), false},
		{"empty", "", false},
		{"free text", "invalid-pin-format", false},
		{"too short", valid[:94], false},
		{"wrong separator", strings.ReplaceAll(valid, ":", "-"), false},
		{"non-hex group", "ZZ" + valid[2:], false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, IsValidPinFormat(tc.pin))
		})
	}
}

func TestAddPinRejectsMalformed(t *testing.T) {
	store, err := NewPinStore(nil)
	require.NoError(t, err)

	err = store.AddPin(domain.CertificatePin{
		Domain:     "api.example.com",
		SHA256Pins: []string{"invalid-pin-format"},
	})
	assert.ErrorIs(t, err, ErrInvalidPin)

	_, ok := store.Pin("api.example.com")
	assert.False(t, ok)
}

func TestVerifyPin(t *testing.T) {
	primaryDER := []byte("primary certificate")
	backupDER := []byte("backup certificate")
	rogueDER := []byte("rogue certificate")

	store, err := NewPinStore([]domain.CertificatePin{{
		Domain:     "api.example.com",
		SHA256Pins: []string{pinFromDER(primaryDER)},
		BackupPins: []string{pinFromDER(backupDER)},
		ExpiresAt:  time.Now().Add(365 * 24 * time.Hour),
	}})
	require.NoError(t, err)

	ok, err := store.VerifyPin("api.example.com", primaryDER)
	require.NoError(t, err)
	assert.True(t, ok)

	pin, found := store.Pin("api.example.com")
	require.True(t, found)
	assert.NotNil(t, pin.LastVerified)

	// Backup match verifies; the rotation warning is log-only.
	ok, err = store.VerifyPin("api.example.com", backupDER)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.VerifyPin("api.example.com", rogueDER)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrPinVerification)

	_, err = store.VerifyPin("unknown.example.com", primaryDER)
	assert.ErrorIs(t, err, ErrNoPinForDomain)
}

func TestUpdatePin(t *testing.T) {
	der := []byte("cert one")
	store, err := NewPinStore([]domain.CertificatePin{{
		Domain:     "api.example.com",
		SHA256Pins: []string{pinFromDER(der)},
	}})
	require.NoError(t, err)

	err = store.UpdatePin("missing.example.com", domain.CertificatePin{
		SHA256Pins: []string{pinFromDER(der)},
	})
	assert.ErrorIs(t, err, ErrNoPinForDomain)

	newDER := []byte("cert two")
	require.NoError(t, store.UpdatePin("api.example.com", domain.CertificatePin{
		SHA256Pins: []string{pinFromDER(newDER)},
	}))

	ok, err := store.VerifyPin("api.example.com", newDER)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.VerifyPin("api.example.com", der)
	assert.ErrorIs(t, err, ErrPinVerification)
}

func TestCheckPinExpiration(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	der := []byte("cert")

	store, err := NewPinStore([]domain.CertificatePin{
		{
			Domain:     "fresh.example.com",
			SHA256Pins: []string{pinFromDER(der)},
			ExpiresAt:  now.Add(90 * 24 * time.Hour),
		},
		{
			Domain:     "expiring.example.com",
			SHA256Pins: []string{pinFromDER(der)},
			ExpiresAt:  now.Add(10 * 24 * time.Hour),
		},
		{
			Domain:     "expired.example.com",
			SHA256Pins: []string{pinFromDER(der)},
			ExpiresAt:  now.Add(-24 * time.Hour),
		},
	}, WithStoreNow(func() time.Time { return now }))
	require.NoError(t, err)

	due := store.CheckPinExpiration()
	assert.ElementsMatch(t, []string{"expiring.example.com", "expired.example.com"}, due)

	// Expired pins still verify; expiry is a maintenance signal.
	ok, err := store.VerifyPin("expired.example.com", der)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReport(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	der := []byte("cert")
	clock := func() time.Time { return now }

	t.Run("empty store", func(t *testing.T) {
		store, err := NewPinStore(nil, WithStoreNow(clock))
		require.NoError(t, err)
		r := store.Report()
		assert.Zero(t, r.TotalPins)
		assert.Zero(t, r.SecurityScore)
		assert.NotEmpty(t, r.Recommendations)
	})

	t.Run("mixed health", func(t *testing.T) {
		store, err := NewPinStore([]domain.CertificatePin{
			{Domain: "a", SHA256Pins: []string{pinFromDER(der)}, ExpiresAt: now.Add(90 * 24 * time.Hour)},
			{Domain: "b", SHA256Pins: []string{pinFromDER(der)}, ExpiresAt: now.Add(10 * 24 * time.Hour)},
			{Domain: "c", SHA256Pins: []string{pinFromDER(der)}, ExpiresAt: now.Add(-time.Hour)},
		}, WithStoreNow(clock))
		require.NoError(t, err)

		r := store.Report()
		assert.Equal(t, 3, r.TotalPins)
		assert.Equal(t, 1, r.ExpiredPins)
		assert.Equal(t, 1, r.ExpiringSoon)
		assert.Equal(t, 33, r.SecurityScore)
		assert.Len(t, r.Recommendations, 2)
	})
}
