package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchBackendReloadsOnExternalWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.kv.json")

	local, err := NewKVBackend(path)
	if err != nil {
		t.Fatalf("kv backend: %v", err)
	}
	cache := NewCache(NewStore(Options{StoreName: "notes", Backend: local}))
	if err := cache.Reload(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	inv, err := WatchBackend(cache, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer inv.Close()

	// A second backend on the same file stands in for another process.
	external, err := NewKVBackend(path)
	if err != nil {
		t.Fatalf("kv backend: %v", err)
	}
	externalStore := NewStore(Options{StoreName: "notes", Backend: external})
	if err := externalStore.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := externalStore.SaveItem(ctx, SaveRequest{ID: "from-elsewhere", Payload: map[string]any{}}); err != nil {
		t.Fatalf("external save failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		items := cache.Items()
		if len(items) == 1 && items[0].ID == "from-elsewhere" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("cache never observed the external write: %#v", cache.Items())
}

func TestWatchBackendRejectsMemoryBackend(t *testing.T) {
	cache := NewCache(NewStore(Options{StoreName: "notes", Backend: NewMemoryBackend()}))
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, err := WatchBackend(cache, 0, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a backend without data files, got %v", err)
	}
}

func TestWatchBackendRequiresInitializedStore(t *testing.T) {
	cache := NewCache(NewStore(Options{StoreName: "notes", Backend: NewMemoryBackend()}))
	if _, err := WatchBackend(cache, 0, nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before init, got %v", err)
	}
}
