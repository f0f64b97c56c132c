package tokenstore

import (
	"context"
	"sync"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// MemoryStore keeps tokens in process memory. It is used in tests and on terminals that
// accept logging in again after a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, kind domain.TokenKind) (string, error) {
	key, err := keyFor(kind)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key], nil
}

func (m *MemoryStore) Set(_ context.Context, kind domain.TokenKind, value string) error {
	key, err := keyFor(kind)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, kind domain.TokenKind) error {
	key, err := keyFor(kind)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) GetUser(context.Context) (domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[domain.UserStorageKey]
	if !ok {
		return nil, nil
	}
	return domain.UserProfile(raw), nil
}

func (m *MemoryStore) SetUser(_ context.Context, profile domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[domain.UserStorageKey] = string(profile)
	return nil
}

func (m *MemoryStore) ClearUser(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, domain.UserStorageKey)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
