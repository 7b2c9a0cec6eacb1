package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

// RecordStore holds the server-side copy of each user's collections. Records
// are flattened server records keyed by their "id" field; PutBatch upserts
// by id, it never removes records absent from the batch.
type RecordStore interface {
	List(ctx context.Context, userID, collection string) ([]map[string]any, error)
	PutBatch(ctx context.Context, userID, collection string, records []map[string]any) error
	Close() error
}

type InMemoryRecordStore struct {
	mu    sync.Mutex
	users map[string]map[string]map[string]map[string]any
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{users: map[string]map[string]map[string]map[string]any{}}
}

func (s *InMemoryRecordStore) List(ctx context.Context, userID, collection string) ([]map[string]any, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.users[userID][collection]
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out = append(out, cloneRecord(record))
	}
	return out, nil
}

func (s *InMemoryRecordStore) PutBatch(ctx context.Context, userID, collection string, records []map[string]any) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	collections, ok := s.users[userID]
	if !ok {
		collections = map[string]map[string]map[string]any{}
		s.users[userID] = collections
	}
	stored, ok := collections[collection]
	if !ok {
		stored = map[string]map[string]any{}
		collections[collection] = stored
	}
	for _, record := range records {
		id, _ := record["id"].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		stored[id] = cloneRecord(record)
	}
	return nil
}

func (s *InMemoryRecordStore) Close() error {
	return nil
}

func cloneRecord(record map[string]any) map[string]any {
	data, err := json.Marshal(record)
	if err != nil {
		return record
	}
	var clone map[string]any
	if err := json.Unmarshal(data, &clone); err != nil {
		return record
	}
	return clone
}

// BuildRecordStoreFromDSN resolves the server's record store. Supported
// schemes: memory:// and postgres://.
func BuildRecordStoreFromDSN(dsn string) (RecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryRecordStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "", "memory", "mem", "inmem":
		return NewInMemoryRecordStore(), nil
	case "postgres", "postgresql":
		return NewPostgresRecordStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported record store scheme: %s", parsed.Scheme)
	}
}
