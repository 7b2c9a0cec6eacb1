package localstore

import (
	"context"
	"fmt"
	"sync"
)

// Cache is the in-memory, UI-consumable mirror of one logical store. It is
// updated through explicit operations, not by subscription to the backend;
// cross-process consistency is best-effort invalidation via Watch.
type Cache struct {
	store *Store

	mu    sync.RWMutex
	items []Envelope

	subMu sync.Mutex
	subs  map[int]func()
	nextS int
}

func NewCache(store *Store) *Cache {
	return &Cache{store: store, subs: map[int]func(){}}
}

func (c *Cache) Store() *Store {
	return c.store
}

// Reload initializes the backend if needed, then replaces the whole
// in-memory collection with a fresh listing. Readers never observe a
// partially applied reload.
func (c *Cache) Reload(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	items, err := c.store.ListItems(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	c.notify()
	return nil
}

// Items returns a snapshot copy of the current collection.
func (c *Cache) Items() []Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Envelope, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cache) Get(id string) *Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.items {
		if c.items[i].ID == id {
			env := c.items[i]
			return &env
		}
	}
	return nil
}

// AddItem persists a new envelope and appends it to the collection without
// a full reload.
func (c *Cache) AddItem(ctx context.Context, payload map[string]any) (Envelope, error) {
	env, err := c.store.SaveItem(ctx, SaveRequest{Payload: payload})
	if err != nil {
		return Envelope{}, err
	}
	c.mu.Lock()
	c.items = append(c.items, env)
	c.mu.Unlock()
	c.notify()
	return env, nil
}

// UpdateItem merges a partial payload into the existing envelope and
// persists the result. Updating an id absent from the collection fails with
// ErrItemNotFound; an update never creates an entry as a side effect.
func (c *Cache) UpdateItem(ctx context.Context, id string, partial map[string]any) (Envelope, error) {
	c.mu.RLock()
	var existing *Envelope
	for i := range c.items {
		if c.items[i].ID == id {
			env := c.items[i]
			existing = &env
			break
		}
	}
	c.mu.RUnlock()
	if existing == nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	merged := clonePayload(existing.Payload)
	if merged == nil {
		merged = map[string]any{}
	}
	for key, value := range partial {
		merged[key] = value
	}
	env, err := c.store.SaveItem(ctx, SaveRequest{
		ID:            existing.ID,
		CreatedAt:     existing.CreatedAt,
		SchemaVersion: existing.SchemaVersion,
		Payload:       merged,
	})
	if err != nil {
		return Envelope{}, err
	}
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i] = env
			break
		}
	}
	c.mu.Unlock()
	c.notify()
	return env, nil
}

func (c *Cache) DeleteItem(ctx context.Context, id string) error {
	if err := c.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	filtered := c.items[:0]
	for _, env := range c.items {
		if env.ID != id {
			filtered = append(filtered, env)
		}
	}
	c.items = filtered
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.ClearAll(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
	c.notify()
	return nil
}

// Subscribe registers a callback fired after every collection change. The
// returned function removes the subscription. UI binding is the consuming
// application's concern; the cache only emits the signal.
func (c *Cache) Subscribe(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	c.subMu.Lock()
	id := c.nextS
	c.nextS++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify() {
	c.subMu.Lock()
	callbacks := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		callbacks = append(callbacks, fn)
	}
	c.subMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}
