package localstore

import "context"

// Backend is the physical persistence layer beneath the envelope store. A
// logical store is a named collection of envelopes; multiple logical stores
// may share one backend instance. The active backend is chosen once at
// initialization and never re-evaluated per operation.
type Backend interface {
	Put(ctx context.Context, storeName string, env Envelope) error
	Get(ctx context.Context, storeName, id string) (*Envelope, error)
	GetAll(ctx context.Context, storeName string) ([]Envelope, error)
	Delete(ctx context.Context, storeName, id string) error
	Clear(ctx context.Context, storeName string) error
	Kind() string
	Close() error
}

// DataFiler is implemented by backends whose state lives in files on disk.
// The returned paths feed the change-notification watcher.
type DataFiler interface {
	DataFiles() []string
}

// UpgradeFunc runs once per schema version step the durable backend moves
// through during initialization. Errors and panics are logged, never fatal.
type UpgradeFunc func(oldVersion, newVersion int) error

type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(format string, args ...any) {}
