package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresRecordsTableName = "statesync_records"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRecordStore persists server records in one table keyed by
// (user_id, collection, record_id). The connection is opened lazily on
// first use.
type PostgresRecordStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRecordStore(dsn string) (*PostgresRecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRecordStore{
		dsn:       dsn,
		tableName: postgresRecordsTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresRecordStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT NOT NULL,
				collection TEXT NOT NULL,
				record_id TEXT NOT NULL,
				doc TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_id, collection, record_id)
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresRecordStore) List(ctx context.Context, userID, collection string) ([]map[string]any, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT doc FROM %s WHERE user_id = $1 AND collection = $2",
		postgresQuoteIdentifier(s.tableName),
	)
	rows, err := s.db.QueryContext(opCtx, query, userID, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]map[string]any, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(doc), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresRecordStore) PutBatch(ctx context.Context, userID, collection string, records []map[string]any) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(opCtx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, collection, record_id, doc, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, collection, record_id)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, postgresQuoteIdentifier(s.tableName))
	for _, record := range records {
		id, _ := record["id"].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		doc, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(opCtx, query, userID, collection, id, string(doc)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresRecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
