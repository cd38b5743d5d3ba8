package memory

import "runtime"

// SecureZeroBytes overwrites b with zeros before it is released. Retired key
// material must pass through here so plaintext keys never linger on the heap.
func SecureZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
