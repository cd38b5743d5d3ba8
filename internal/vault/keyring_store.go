package vault

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/atlas-fin/securecore/internal/domain"
)

// currentKeyItem is the keychain entry holding the active key id.
const currentKeyItem = "current_key_id"

// KeyringStore persists key bytes and key metadata as separate entries in
// the OS keychain; metadata lives under its own service name so an exported
// metadata entry can never leak key bytes.
type KeyringStore struct {
	keys keyring.Keyring
	meta keyring.Keyring
}

// NewKeyringStore opens the platform keychain under the given service name.
func NewKeyringStore(service string) (*KeyringStore, error) {
	keys, err := keyring.Open(keyring.Config{ServiceName: service})
	if err != nil {
		return nil, fmt.Errorf("open keychain %q: %w", service, err)
	}
	meta, err := keyring.Open(keyring.Config{ServiceName: service + "-metadata"})
	if err != nil {
		return nil, fmt.Errorf("open keychain %q: %w", service+"-metadata", err)
	}
	return &KeyringStore{keys: keys, meta: meta}, nil
}

func (s *KeyringStore) StoreKey(id string, key []byte) error {
	return s.keys.Set(keyring.Item{Key: id, Data: append([]byte(nil), key...)})
}

func (s *KeyringStore) LoadKey(id string) ([]byte, error) {
	item, err := s.keys.Get(id)
	if err != nil {
		return nil, err
	}
	return item.Data, nil
}

func (s *KeyringStore) DeleteKey(id string) error {
	if err := s.keys.Remove(id); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (s *KeyringStore) StoreMetadata(id string, meta *domain.KeyMaterial) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.meta.Set(keyring.Item{Key: id, Data: data})
}

func (s *KeyringStore) LoadMetadata(id string) (*domain.KeyMaterial, error) {
	item, err := s.meta.Get(id)
	if err != nil {
		return nil, err
	}
	var meta domain.KeyMaterial
	if err := json.Unmarshal(item.Data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *KeyringStore) DeleteMetadata(id string) error {
	if err := s.meta.Remove(id); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (s *KeyringStore) CurrentKeyID() (string, error) {
	item, err := s.meta.Get(currentKeyItem)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func (s *KeyringStore) SetCurrentKeyID(id string) error {
	return s.meta.Set(keyring.Item{Key: currentKeyItem, Data: []byte(id)})
}
