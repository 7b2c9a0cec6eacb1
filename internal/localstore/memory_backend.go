package localstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps envelopes in process memory. It backs tests and
// non-client runtimes where no persistent storage exists.
type MemoryBackend struct {
	mu     sync.Mutex
	stores map[string]map[string]Envelope
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: map[string]map[string]Envelope{}}
}

func (b *MemoryBackend) Put(ctx context.Context, storeName string, env Envelope) error {
	if b == nil || env.ID == "" {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	store, ok := b.stores[storeName]
	if !ok {
		store = map[string]Envelope{}
		b.stores[storeName] = store
	}
	store[env.ID] = cloneEnvelope(env)
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, storeName, id string) (*Envelope, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	env, ok := b.stores[storeName][id]
	if !ok {
		return nil, nil
	}
	clone := cloneEnvelope(env)
	return &clone, nil
}

func (b *MemoryBackend) GetAll(ctx context.Context, storeName string) ([]Envelope, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	store := b.stores[storeName]
	result := make([]Envelope, 0, len(store))
	for _, env := range store {
		result = append(result, cloneEnvelope(env))
	}
	return result, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, storeName, id string) error {
	if b == nil {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stores[storeName], id)
	return nil
}

func (b *MemoryBackend) Clear(ctx context.Context, storeName string) error {
	if b == nil {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stores, storeName)
	return nil
}

func (b *MemoryBackend) Kind() string {
	return "memory"
}

func (b *MemoryBackend) Close() error {
	return nil
}
