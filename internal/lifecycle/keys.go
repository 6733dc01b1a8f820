package lifecycle

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// KeyStore hands out one idempotency key per booking fingerprint until the
// booking is confirmed and the key is forgotten.
type KeyStore interface {
	Reserve(ctx context.Context, fingerprint string) (string, error)
	Forget(ctx context.Context, fingerprint string) error
}

// MemoryKeys is a process-local KeyStore.
type MemoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryKeys() *MemoryKeys {
	return &MemoryKeys{keys: make(map[string]string)}
}

func (m *MemoryKeys) Reserve(_ context.Context, fingerprint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[fingerprint]; ok {
		return k, nil
	}
	k := uuid.NewString()
	m.keys[fingerprint] = k
	return k, nil
}

func (m *MemoryKeys) Forget(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, fingerprint)
	return nil
}
