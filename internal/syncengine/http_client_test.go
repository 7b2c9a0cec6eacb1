package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/statesync/internal/localstore"
)

func fastClient(baseURL string) *Client {
	c := NewClient(baseURL, "test-token", nil)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestPushRecordsSendsBatch(t *testing.T) {
	var gotPath, gotAuth string
	var gotBatch recordBatch
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBatch); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := fastClient(server.URL)
	records := []localstore.ServerRecord{{"id": "a", "title": "x"}}
	if err := client.PushRecords(context.Background(), "alice", "notes", records); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if gotPath != "/v1/users/alice/collections/notes/records" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	if len(gotBatch.Records) != 1 || gotBatch.Records[0]["id"] != "a" {
		t.Fatalf("batch not transmitted: %#v", gotBatch)
	}
}

func TestFetchRecordsDecodesBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recordBatch{Records: []localstore.ServerRecord{
			{"id": "r1", "title": "remote"},
		}})
	}))
	defer server.Close()

	records, err := fastClient(server.URL).FetchRecords(context.Background(), "alice", "notes")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 1 || records[0]["id"] != "r1" {
		t.Fatalf("unexpected records: %#v", records)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := fastClient(server.URL).PushRecords(context.Background(), "alice", "notes", nil); err != nil {
		t.Fatalf("push should succeed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientStopsRetryingNonTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "forbidden", "message": "wrong user"})
	}))
	defer server.Close()

	err := fastClient(server.URL).PushRecords(context.Background(), "alice", "notes", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusForbidden || httpErr.Code != "forbidden" {
		t.Fatalf("unexpected error detail: %#v", httpErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestRetryDelayBacksOffAndCaps(t *testing.T) {
	client := fastClient("http://example.invalid")
	client.baseDelay = 100 * time.Millisecond
	client.maxDelay = 300 * time.Millisecond
	if got := client.retryDelay(1, ""); got != 100*time.Millisecond {
		t.Fatalf("first delay: %v", got)
	}
	if got := client.retryDelay(2, ""); got != 200*time.Millisecond {
		t.Fatalf("second delay: %v", got)
	}
	if got := client.retryDelay(5, ""); got != 300*time.Millisecond {
		t.Fatalf("delay must cap at maxDelay, got %v", got)
	}
	if got := client.retryDelay(1, "2"); got != 300*time.Millisecond {
		t.Fatalf("Retry-After must be honored up to the cap, got %v", got)
	}
}

func TestClientEngineRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := []localstore.ServerRecord{
		remoteRecord("from-server", time.Now().UTC().Format(time.RFC3339Nano), map[string]any{"origin": "server"}),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(recordBatch{Records: remote})
		}
	}))
	defer server.Close()

	store := newSyncStore(t)
	client := fastClient(server.URL)
	result, err := New(store).SyncWithServer(ctx, Options{
		Push:  client.PushFunc("alice", "notes"),
		Fetch: client.FetchFunc("alice", "notes"),
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Pulled != 1 || result.Applied != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	env, err := store.GetItem(ctx, "from-server")
	if err != nil || env == nil {
		t.Fatalf("server record not persisted: %v %v", env, err)
	}
}
