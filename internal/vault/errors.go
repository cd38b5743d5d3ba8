package vault

import "errors"

// Vault failures are always surfaced to the caller, never retried
// internally; masking a key-management failure is itself a risk.
var (
	ErrEncryptionFailed    = errors.New("encryption failed")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrKeyDerivationFailed = errors.New("key derivation failed")
	ErrHardwareFingerprint = errors.New("hardware fingerprinting failed")
	ErrKeychainFailed      = errors.New("keychain access failed")
	ErrKeyRotationFailed   = errors.New("key rotation failed")
	ErrAuditFailed         = errors.New("audit logging failed")
	ErrVaultNotInitialized = errors.New("vault not initialized")
	ErrAlreadyInitialized  = errors.New("vault already initialized")
)
