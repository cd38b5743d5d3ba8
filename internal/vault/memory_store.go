package vault

import (
	"errors"
	"sync"

	"github.com/atlas-fin/securecore/internal/domain"
)

// ErrSecretNotFound is returned by MemoryStore for unknown ids.
var ErrSecretNotFound = errors.New("secret not found")

// MemoryStore is an in-process SecretStore for tests and for hosts without
// a usable keychain. Contents vanish with the process.
type MemoryStore struct {
	mu      sync.RWMutex
	keys    map[string][]byte
	meta    map[string]*domain.KeyMaterial
	current string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string][]byte),
		meta: make(map[string]*domain.KeyMaterial),
	}
}

func (s *MemoryStore) StoreKey(id string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = append([]byte(nil), key...)
	return nil
}

func (s *MemoryStore) LoadKey(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return append([]byte(nil), key...), nil
}

func (s *MemoryStore) DeleteKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}

func (s *MemoryStore) StoreMetadata(id string, meta *domain.KeyMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	cp.DerivationSalt = append([]byte(nil), meta.DerivationSalt...)
	s.meta[id] = &cp
	return nil
}

func (s *MemoryStore) LoadMetadata(id string) (*domain.KeyMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[id]
	if !ok {
		return nil, ErrSecretNotFound
	}
	cp := *meta
	cp.DerivationSalt = append([]byte(nil), meta.DerivationSalt...)
	return &cp, nil
}

func (s *MemoryStore) DeleteMetadata(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, id)
	return nil
}

func (s *MemoryStore) CurrentKeyID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *MemoryStore) SetCurrentKeyID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
	return nil
}
