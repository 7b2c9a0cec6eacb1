package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentworkforce/statesync/internal/localstore"
)

func newSyncStore(t *testing.T) *localstore.Store {
	t.Helper()
	store := localstore.NewStore(localstore.Options{StoreName: "notes", Backend: localstore.NewMemoryBackend()})
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return store
}

func seedEnvelope(t *testing.T, store *localstore.Store, id, updatedAt string, payload map[string]any) {
	t.Helper()
	env := localstore.Envelope{
		ID:            id,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
		SchemaVersion: 1,
		Payload:       payload,
	}
	if err := store.Backend().Put(context.Background(), store.StoreName(), env); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func remoteRecord(id, updatedAt string, payload map[string]any) localstore.ServerRecord {
	env := localstore.Envelope{
		ID:            id,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
		SchemaVersion: 1,
		Payload:       payload,
	}
	return localstore.ToServerRecord(env)
}

func itemsByID(t *testing.T, store *localstore.Store) map[string]localstore.Envelope {
	t.Helper()
	items, err := store.ListItems(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	out := make(map[string]localstore.Envelope, len(items))
	for _, env := range items {
		out[env.ID] = env
	}
	return out
}

func TestSyncMergesDisjointSets(t *testing.T) {
	ctx := context.Background()
	store := newSyncStore(t)
	older := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	seedEnvelope(t, store, "local-only", older, map[string]any{"side": "local"})

	var pushed []localstore.ServerRecord
	result, err := New(store).SyncWithServer(ctx, Options{
		Push: func(ctx context.Context, records []localstore.ServerRecord) error {
			pushed = records
			return nil
		},
		Fetch: func(ctx context.Context) ([]localstore.ServerRecord, error) {
			return []localstore.ServerRecord{
				remoteRecord("remote-only", older, map[string]any{"side": "remote"}),
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Pushed != 1 || result.Pulled != 1 || result.Applied != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(pushed) != 1 || pushed[0]["id"] != "local-only" {
		t.Fatalf("local batch not pushed: %#v", pushed)
	}
	merged := itemsByID(t, store)
	if len(merged) != 2 {
		t.Fatalf("expected union of both sides, got %v", merged)
	}
	if merged["remote-only"].Payload["side"] != "remote" {
		t.Fatalf("remote record not adopted: %#v", merged["remote-only"])
	}
}

func TestSyncRemoteWinsWhenStrictlyNewer(t *testing.T) {
	ctx := context.Background()
	store := newSyncStore(t)
	older := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	newer := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)
	seedEnvelope(t, store, "shared", older, map[string]any{"v": "stale"})

	result, err := New(store).SyncWithServer(ctx, Options{
		Fetch: func(ctx context.Context) ([]localstore.ServerRecord, error) {
			return []localstore.ServerRecord{
				remoteRecord("shared", newer, map[string]any{"v": "fresh"}),
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	merged := itemsByID(t, store)
	if merged["shared"].Payload["v"] != "fresh" {
		t.Fatalf("newer remote copy lost: %#v", merged["shared"])
	}
}

func TestSyncLocalWinsOnTie(t *testing.T) {
	ctx := context.Background()
	store := newSyncStore(t)
	ts := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	seedEnvelope(t, store, "shared", ts, map[string]any{"v": "mine"})

	_, err := New(store).SyncWithServer(ctx, Options{
		Fetch: func(ctx context.Context) ([]localstore.ServerRecord, error) {
			return []localstore.ServerRecord{
				remoteRecord("shared", ts, map[string]any{"v": "theirs"}),
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	merged := itemsByID(t, store)
	if merged["shared"].Payload["v"] != "mine" {
		t.Fatalf("tie must keep the local copy: %#v", merged["shared"])
	}
}

func TestSyncPushFailureAbortsBeforeFetch(t *testing.T) {
	ctx := context.Background()
	store := newSyncStore(t)
	fetched := false
	_, err := New(store).SyncWithServer(ctx, Options{
		Push: func(ctx context.Context, records []localstore.ServerRecord) error {
			return errors.New("server down")
		},
		Fetch: func(ctx context.Context) ([]localstore.ServerRecord, error) {
			fetched = true
			return nil, nil
		},
	})
	if !errors.Is(err, ErrSync) {
		t.Fatalf("expected ErrSync, got %v", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Stage != "push" {
		t.Fatalf("expected push-stage error, got %#v", err)
	}
	if fetched {
		t.Fatal("fetch must not run after a failed push")
	}
}

func TestSyncFetchFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := newSyncStore(t)
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	seedEnvelope(t, store, "keep", ts, map[string]any{"v": "untouched"})

	result, err := New(store).SyncWithServer(ctx, Options{
		Fetch: func(ctx context.Context) ([]localstore.ServerRecord, error) {
			return nil, errors.New("timeout")
		},
	})
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Stage != "fetch" {
		t.Fatalf("expected fetch-stage error, got %v", err)
	}
	if result.Applied != 0 || result.Pulled != 0 {
		t.Fatalf("fetch failure must not apply anything: %+v", result)
	}
	merged := itemsByID(t, store)
	if merged["keep"].Payload["v"] != "untouched" {
		t.Fatalf("local data modified on fetch failure: %#v", merged["keep"])
	}
}

func TestSyncWithoutTransportsReadsOnly(t *testing.T) {
	store := newSyncStore(t)
	result, err := New(store).SyncWithServer(context.Background(), Options{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result != (Result{}) {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestActiveRecordOverride(t *testing.T) {
	older := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	newer := time.Now().UTC().Format(time.RFC3339Nano)
	resolve := ActiveRecordOverride("inProgress", nil)

	local := localstore.Envelope{ID: "x", UpdatedAt: older, Payload: map[string]any{"inProgress": true, "v": "local"}}
	remote := localstore.Envelope{ID: "x", UpdatedAt: newer, Payload: map[string]any{"v": "remote"}}
	if got := resolve(local, remote); got.Payload["v"] != "local" {
		t.Fatalf("active local side must win despite older timestamp: %#v", got)
	}

	local.Payload["inProgress"] = false
	remote.Payload["inProgress"] = "recording"
	if got := resolve(local, remote); got.Payload["v"] != "remote" {
		t.Fatalf("active remote side must win: %#v", got)
	}

	// Both active falls through to last-write-wins.
	local.Payload["inProgress"] = true
	if got := resolve(local, remote); got.Payload["v"] != "remote" {
		t.Fatalf("tie-break must fall through to timestamps: %#v", got)
	}
}
