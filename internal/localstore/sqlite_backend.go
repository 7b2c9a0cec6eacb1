package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/glebarez/go-sqlite/compat"
)

// currentSchemaVersion is the highest schema the durable backend knows how
// to migrate to. Version 1 is the base envelope table; version 2 adds the
// updated_at index used for range and sort queries.
const currentSchemaVersion = 2

// SQLiteBackend is the durable indexed backend: one database file per
// dbName, one envelope table keyed by (store_name, id), and a versioned
// schema with incremental migrations.
type SQLiteBackend struct {
	path          string
	targetVersion int
	upgrade       UpgradeFunc
	logger        Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteBackend(path string, version int, upgrade UpgradeFunc, logger Logger) (*SQLiteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if version <= 0 {
		version = 1
	}
	if version > currentSchemaVersion {
		version = currentSchemaVersion
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &SQLiteBackend{
		path:          path,
		targetVersion: version,
		upgrade:       upgrade,
		logger:        logger,
	}, nil
}

// Ready opens the database, applies PRAGMAs, and runs any pending schema
// migrations. Safe to call multiple times; only the first call does work.
func (b *SQLiteBackend) Ready(ctx context.Context) error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		b.initErr = b.open(ctx)
	})
	return b.initErr
}

func (b *SQLiteBackend) open(ctx context.Context) error {
	dir := filepath.Dir(b.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	db, err := sql.Open("sqlite3", b.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := migrateSchema(ctx, db, b.targetVersion, b.upgrade, b.logger); err != nil {
		_ = db.Close()
		return err
	}
	b.db = db
	return nil
}

func migrateSchema(ctx context.Context, db *sql.DB, target int, upgrade UpgradeFunc, logger Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			meta_key TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_meta: %w", err)
	}
	current := 0
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_meta WHERE meta_key = 'schema'").Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for version := current + 1; version <= target; version++ {
		if err := applyMigrationStep(ctx, db, version); err != nil {
			return err
		}
		runUpgradeHook(upgrade, version-1, version, logger)
	}
	if target > current {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO schema_meta (meta_key, version) VALUES ('schema', $1)
			ON CONFLICT (meta_key) DO UPDATE SET version = excluded.version`, target); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}
	return nil
}

func applyMigrationStep(ctx context.Context, db *sql.DB, version int) error {
	switch version {
	case 1:
		_, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS envelopes (
				store_name TEXT NOT NULL,
				id TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				schema_version INTEGER NOT NULL DEFAULT 1,
				payload TEXT NOT NULL,
				PRIMARY KEY (store_name, id)
			)`)
		if err != nil {
			return fmt.Errorf("migration to version 1 failed: %w", err)
		}
	case 2:
		_, err := db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS envelopes_updated_at_idx
			ON envelopes (store_name, updated_at)`)
		if err != nil {
			return fmt.Errorf("migration to version 2 failed: %w", err)
		}
	}
	return nil
}

// runUpgradeHook invokes a caller-supplied migration hook for one version
// step. Hook failures are logged and swallowed so they can never abort
// initialization.
func runUpgradeHook(upgrade UpgradeFunc, oldVersion, newVersion int, logger Logger) {
	if upgrade == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("upgrade hook panicked migrating %d -> %d: %v", oldVersion, newVersion, r)
		}
	}()
	if err := upgrade(oldVersion, newVersion); err != nil {
		logger.Printf("upgrade hook failed migrating %d -> %d: %v", oldVersion, newVersion, err)
	}
}

func (b *SQLiteBackend) Put(ctx context.Context, storeName string, env Envelope) error {
	if b == nil || env.ID == "" {
		return ErrInvalidInput
	}
	if err := b.Ready(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO envelopes (store_name, id, created_at, updated_at, schema_version, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (store_name, id) DO UPDATE SET
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			schema_version = excluded.schema_version,
			payload = excluded.payload`,
		storeName, env.ID, env.CreatedAt, env.UpdatedAt, env.SchemaVersion, string(payload))
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, storeName, id string) (*Envelope, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	if err := b.Ready(ctx); err != nil {
		return nil, err
	}
	row := b.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, schema_version, payload
		FROM envelopes WHERE store_name = $1 AND id = $2`, storeName, id)
	env, err := scanEnvelope(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (b *SQLiteBackend) GetAll(ctx context.Context, storeName string) ([]Envelope, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	if err := b.Ready(ctx); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, schema_version, payload
		FROM envelopes WHERE store_name = $1
		ORDER BY updated_at ASC`, storeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]Envelope, 0)
	for rows.Next() {
		env, err := scanEnvelope(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *env)
	}
	return result, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, storeName, id string) error {
	if b == nil {
		return ErrInvalidInput
	}
	if err := b.Ready(ctx); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, "DELETE FROM envelopes WHERE store_name = $1 AND id = $2", storeName, id)
	return err
}

func (b *SQLiteBackend) Clear(ctx context.Context, storeName string) error {
	if b == nil {
		return ErrInvalidInput
	}
	if err := b.Ready(ctx); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, "DELETE FROM envelopes WHERE store_name = $1", storeName)
	return err
}

func (b *SQLiteBackend) Kind() string {
	return "sqlite"
}

func (b *SQLiteBackend) DataFiles() []string {
	if b == nil {
		return nil
	}
	return []string{b.path, b.path + "-wal"}
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func scanEnvelope(scan func(dest ...any) error) (*Envelope, error) {
	var env Envelope
	var payload string
	if err := scan(&env.ID, &env.CreatedAt, &env.UpdatedAt, &env.SchemaVersion, &payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &env.Payload); err != nil {
		return nil, err
	}
	return &env, nil
}
