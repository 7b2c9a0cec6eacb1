package localstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	defaultDBName    = "statesync"
	defaultDataDir   = ".statesync"
	defaultStoreName = "items"
)

// Options configures one logical store. RuntimeCheck models the client
// runtime probe: when it reports false, Init returns silently and the store
// stays uninitialized so server-side execution paths never touch disk.
type Options struct {
	DBName      string
	StoreName   string
	Version     int
	DataDir     string
	BackendDSN  string
	UseFallback bool

	// Backend injects an already-constructed backend, bypassing selection.
	Backend Backend

	Upgrade       UpgradeFunc
	PayloadSchema []byte
	RuntimeCheck  func() bool
	Logger        Logger
}

// SaveRequest is the partial envelope accepted by SaveItem. Payload is
// required; everything else is defaulted.
type SaveRequest struct {
	ID            string
	CreatedAt     string
	SchemaVersion int
	Payload       map[string]any
}

// Store is the envelope store: durable key-value persistence of envelopes
// behind one interface, independent of which physical backend is active.
type Store struct {
	opts   Options
	logger Logger

	mu          sync.Mutex
	backend     Backend
	schema      *jsonschema.Schema
	initialized bool
	initErr     error
}

func NewStore(opts Options) *Store {
	if strings.TrimSpace(opts.DBName) == "" {
		opts.DBName = defaultDBName
	}
	if strings.TrimSpace(opts.StoreName) == "" {
		opts.StoreName = defaultStoreName
	}
	if opts.Version <= 0 {
		opts.Version = 1
	}
	if strings.TrimSpace(opts.DataDir) == "" {
		opts.DataDir = defaultDataDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{opts: opts, logger: logger}
}

// StoreName reports the logical store this instance is bound to.
func (s *Store) StoreName() string {
	return s.opts.StoreName
}

// Init opens the backing store. It is idempotent: second and later calls
// are no-ops. Outside a client runtime it returns nil without initializing;
// read and write paths then fail with ErrNotInitialized instead of crashing
// the host process.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return s.initErr
	}
	if s.opts.RuntimeCheck != nil && !s.opts.RuntimeCheck() {
		return nil
	}
	s.initialized = true
	if len(s.opts.PayloadSchema) > 0 {
		schema, err := compilePayloadSchema(s.opts.PayloadSchema)
		if err != nil {
			s.initErr = fmt.Errorf("%w: payload schema: %v", ErrInvalidInput, err)
			return s.initErr
		}
		s.schema = schema
	}
	backend, err := OpenBackend(ctx, s.opts)
	if err != nil {
		s.initErr = err
		return err
	}
	s.backend = backend
	return nil
}

func compilePayloadSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("payload.json")
}

func (s *Store) ready() (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return nil, s.initErr
	}
	if !s.initialized || s.backend == nil {
		return nil, ErrNotInitialized
	}
	return s.backend, nil
}

// Backend exposes the active backend, nil before a successful Init. The
// invalidation watcher uses it to find data files to observe.
func (s *Store) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// SaveItem persists a full envelope, overwriting any existing entry with
// the same id. A missing id is generated, createdAt is preserved when
// present, updatedAt is always refreshed, and schemaVersion defaults to 1.
// There is no partial-field patch at this layer; callers wanting one must
// read-modify-write.
func (s *Store) SaveItem(ctx context.Context, req SaveRequest) (Envelope, error) {
	backend, err := s.ready()
	if err != nil {
		return Envelope{}, err
	}
	if req.Payload == nil {
		return Envelope{}, fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}
	if s.schema != nil {
		if err := s.schema.Validate(any(req.Payload)); err != nil {
			return Envelope{}, fmt.Errorf("%w: payload rejected by schema: %v", ErrInvalidInput, err)
		}
	}
	now := nowTimestamp()
	env := Envelope{
		ID:            strings.TrimSpace(req.ID),
		CreatedAt:     strings.TrimSpace(req.CreatedAt),
		UpdatedAt:     now,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
	}
	if env.ID == "" {
		env.ID = NewID()
	}
	if env.CreatedAt == "" {
		env.CreatedAt = now
	}
	if env.SchemaVersion <= 0 {
		env.SchemaVersion = 1
	}
	if err := backend.Put(ctx, s.opts.StoreName, env); err != nil {
		return Envelope{}, writeError("save item "+env.ID, err)
	}
	return env, nil
}

// GetItem returns the matching envelope, or nil when absent.
func (s *Store) GetItem(ctx context.Context, id string) (*Envelope, error) {
	backend, err := s.ready()
	if err != nil {
		return nil, err
	}
	env, err := backend.Get(ctx, s.opts.StoreName, id)
	if err != nil {
		return nil, readError("get item "+id, err)
	}
	return env, nil
}

// ListItems returns every envelope in the logical store. Order is not
// guaranteed; callers needing one must sort, typically by updatedAt.
func (s *Store) ListItems(ctx context.Context) ([]Envelope, error) {
	backend, err := s.ready()
	if err != nil {
		return nil, err
	}
	items, err := backend.GetAll(ctx, s.opts.StoreName)
	if err != nil {
		return nil, readError("list items", err)
	}
	return items, nil
}

// DeleteItem removes the entry if present. Deleting a missing id is not an
// error.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	backend, err := s.ready()
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, s.opts.StoreName, id); err != nil {
		return writeError("delete item "+id, err)
	}
	return nil
}

// ClearAll removes every entry in this logical store only; other logical
// stores sharing the backing database are untouched.
func (s *Store) ClearAll(ctx context.Context) error {
	backend, err := s.ready()
	if err != nil {
		return err
	}
	if err := backend.Clear(ctx, s.opts.StoreName); err != nil {
		return writeError("clear store "+s.opts.StoreName, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
