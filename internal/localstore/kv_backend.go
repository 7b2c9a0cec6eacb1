package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// KVBackend is the degraded fallback: a flat string-keyed namespace held in
// one JSON file, with each envelope stored under "{storeName}:{id}". Listing
// a logical store is a linear scan over keys sharing the store's prefix.
type KVBackend struct {
	path      string
	mu        sync.Mutex
	entries   map[string]string
	loadedMod time.Time
}

func NewKVBackend(path string) (*KVBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	b := &KVBackend{path: path, entries: map[string]string{}}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func kvKey(storeName, id string) string {
	return storeName + ":" + id
}

func kvPrefix(storeName string) string {
	return storeName + ":"
}

func (b *KVBackend) Put(ctx context.Context, storeName string, env Envelope) error {
	if b == nil || env.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return err
	}
	key := kvKey(storeName, env.ID)
	prev, existed := b.entries[key]
	b.entries[key] = string(data)
	if err := b.persist(); err != nil {
		// A save either happened or it did not; roll the staged entry back
		// so reads never observe an unpersisted write.
		if existed {
			b.entries[key] = prev
		} else {
			delete(b.entries, key)
		}
		return err
	}
	return nil
}

func (b *KVBackend) Get(ctx context.Context, storeName, id string) (*Envelope, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return nil, err
	}
	raw, ok := b.entries[kvKey(storeName, id)]
	if !ok {
		return nil, nil
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (b *KVBackend) GetAll(ctx context.Context, storeName string) ([]Envelope, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return nil, err
	}
	prefix := kvPrefix(storeName)
	result := make([]Envelope, 0)
	for key, raw := range b.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, err
		}
		result = append(result, env)
	}
	return result, nil
}

func (b *KVBackend) Delete(ctx context.Context, storeName, id string) error {
	if b == nil {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return err
	}
	key := kvKey(storeName, id)
	prev, ok := b.entries[key]
	if !ok {
		return nil
	}
	delete(b.entries, key)
	if err := b.persist(); err != nil {
		b.entries[key] = prev
		return err
	}
	return nil
}

func (b *KVBackend) Clear(ctx context.Context, storeName string) error {
	if b == nil {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return err
	}
	prefix := kvPrefix(storeName)
	removed := map[string]string{}
	for key, raw := range b.entries {
		if strings.HasPrefix(key, prefix) {
			removed[key] = raw
			delete(b.entries, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := b.persist(); err != nil {
		for key, raw := range removed {
			b.entries[key] = raw
		}
		return err
	}
	return nil
}

func (b *KVBackend) Kind() string {
	return "file"
}

func (b *KVBackend) DataFiles() []string {
	if b == nil {
		return nil
	}
	return []string{b.path}
}

func (b *KVBackend) Close() error {
	return nil
}

func (b *KVBackend) load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	b.entries = entries
	if info, statErr := os.Stat(b.path); statErr == nil {
		b.loadedMod = info.ModTime()
	}
	return nil
}

// refreshLocked re-reads the file when another process replaced it since the
// last load. Callers hold b.mu.
func (b *KVBackend) refreshLocked() error {
	info, err := os.Stat(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.ModTime().Equal(b.loadedMod) {
		return nil
	}
	return b.load()
}

func (b *KVBackend) persist() error {
	data, err := json.Marshal(b.entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return err
	}
	if info, statErr := os.Stat(b.path); statErr == nil {
		b.loadedMod = info.ModTime()
	}
	return nil
}
