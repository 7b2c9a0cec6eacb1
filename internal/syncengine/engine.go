package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentworkforce/statesync/internal/localstore"
)

var ErrSync = errors.New("sync failed")

// SyncError reports which stage of a sync cycle failed. Push and fetch
// failures abort before any local write; persist failures carry the ids
// whose writes did not complete.
type SyncError struct {
	Stage     string
	Cause     error
	FailedIDs []string
}

func (e *SyncError) Error() string {
	if len(e.FailedIDs) > 0 {
		return fmt.Sprintf("sync %s failed for %s: %v", e.Stage, strings.Join(e.FailedIDs, ", "), e.Cause)
	}
	return fmt.Sprintf("sync %s failed: %v", e.Stage, e.Cause)
}

func (e *SyncError) Is(target error) bool {
	return target == ErrSync
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// PushFunc hands the full local batch to a caller-provided transport. It
// must fully succeed or return an error; there is no partial-success
// contract.
type PushFunc func(ctx context.Context, records []localstore.ServerRecord) error

// FetchFunc obtains the remote collaborator's current record batch.
type FetchFunc func(ctx context.Context) ([]localstore.ServerRecord, error)

// Options configures one sync cycle. The engine never opens network
// connections itself; transports are supplied by the caller.
type Options struct {
	Push    PushFunc
	Fetch   FetchFunc
	Resolve Resolver
	Logger  localstore.Logger
}

// Result counts what a sync cycle did. Applied only counts local writes
// that actually completed.
type Result struct {
	Pushed  int
	Pulled  int
	Applied int
}

// Engine reconciles the full local envelope set of one store with a remote
// collaborator using a deterministic merge policy.
type Engine struct {
	store *localstore.Store
}

func New(store *localstore.Store) *Engine {
	return &Engine{store: store}
}

// SyncWithServer runs one push-then-pull-then-merge cycle. A push failure
// aborts before fetch: merging against a remote that never received the
// local batch would resolve conflicts against stale data. A fetch failure
// commits no partial merge.
func (e *Engine) SyncWithServer(ctx context.Context, opts Options) (Result, error) {
	if e == nil || e.store == nil {
		return Result{}, &SyncError{Stage: "read", Cause: localstore.ErrInvalidInput}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noLogger{}
	}

	local, err := e.store.ListItems(ctx)
	if err != nil {
		return Result{}, &SyncError{Stage: "read", Cause: err}
	}

	var result Result
	if opts.Push != nil {
		records := make([]localstore.ServerRecord, 0, len(local))
		for _, env := range local {
			records = append(records, localstore.ToServerRecord(env))
		}
		if err := opts.Push(ctx, records); err != nil {
			return Result{}, &SyncError{Stage: "push", Cause: err}
		}
		result.Pushed = len(records)
	}

	if opts.Fetch == nil {
		return result, nil
	}
	remote, err := opts.Fetch(ctx)
	if err != nil {
		return result, &SyncError{Stage: "fetch", Cause: err}
	}

	resolve := opts.Resolve
	if resolve == nil {
		resolve = LastWriteWins
	}
	localByID := make(map[string]localstore.Envelope, len(local))
	for _, env := range local {
		localByID[env.ID] = env
	}

	toWrite := make([]localstore.Envelope, 0, len(remote))
	for _, record := range remote {
		incoming := localstore.FromServerRecord(record)
		result.Pulled++
		if existing, ok := localByID[incoming.ID]; ok {
			toWrite = append(toWrite, resolve(existing, incoming))
			continue
		}
		toWrite = append(toWrite, incoming)
	}

	applied, failed := e.persistBatch(ctx, toWrite)
	result.Applied = applied
	if len(failed) > 0 {
		sort.Strings(failed)
		logger.Printf("sync persisted %d of %d merged records", applied, len(toWrite))
		return result, &SyncError{
			Stage:     "persist",
			Cause:     localstore.ErrStorageWrite,
			FailedIDs: failed,
		}
	}
	return result, nil
}

// persistBatch writes merged envelopes concurrently. Order across distinct
// ids is irrelevant; each individual save is atomic per the store contract.
func (e *Engine) persistBatch(ctx context.Context, batch []localstore.Envelope) (int, []string) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	failed := make([]string, 0)
	for _, env := range batch {
		wg.Add(1)
		go func(env localstore.Envelope) {
			defer wg.Done()
			_, err := e.store.SaveItem(ctx, localstore.SaveRequest{
				ID:            env.ID,
				CreatedAt:     env.CreatedAt,
				SchemaVersion: env.SchemaVersion,
				Payload:       env.Payload,
			})
			mu.Lock()
			if err != nil {
				failed = append(failed, env.ID)
			} else {
				applied++
			}
			mu.Unlock()
		}(env)
	}
	wg.Wait()
	return applied, failed
}

type noLogger struct{}

func (noLogger) Printf(format string, args ...any) {}
