package vault

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// keyContext binds derived keys to this application; two machines with the
// same fingerprint in different products still derive different keys.
const keyContext = "atlas-desktop-vault:"

const derivedKeyLength = 32

// deriveKey stretches the hardware fingerprint into an AES-256 key with
// PBKDF2-HMAC-SHA256.
func deriveKey(fingerprint string, salt []byte, iterations int) []byte {
	password := keyContext + fingerprint
	return pbkdf2.Key([]byte(password), salt, iterations, derivedKeyLength, sha256.New)
}
