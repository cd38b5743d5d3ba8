package ratelimit

import "crypto/rand"

const unlockTokenCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const unlockTokenLength = 16

// generateUnlockToken produces the admin-override token handed out once a
// lockout escalates. 16 characters from a 36-symbol alphabet is ~82 bits.
func generateUnlockToken() string {
	buf := make([]byte, unlockTokenLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; an empty token
		// simply means no admin override is possible for this lockout.
		return ""
	}
	for i, b := range buf {
		buf[i] = unlockTokenCharset[int(b)%len(unlockTokenCharset)]
	}
	return string(buf)
}
