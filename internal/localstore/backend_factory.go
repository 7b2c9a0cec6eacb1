package localstore

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// BuildBackendFromDSN resolves a backend from an explicit DSN. Supported
// built-in schemes: sqlite:// (durable indexed), file:// (flat key-value
// fallback), memory://. A bare path is treated as a sqlite database file.
func BuildBackendFromDSN(dsn string, opts BackendOptions) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupBackendFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "", "sqlite":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteBackend(path, opts.Version, opts.Upgrade, opts.Logger)
	case "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewKVBackend(path)
	case "memory", "mem", "inmem":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, dsn string) (string, error) {
	if parsed.Scheme == "" {
		return dsn, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path in dsn %q", ErrInvalidInput, dsn)
	}
	return path, nil
}

// OpenBackend applies the selection contract: try the durable indexed
// backend first, and on any open failure switch to the flat key-value
// fallback when permitted. The choice is fixed for the lifetime of the
// returned backend.
func OpenBackend(ctx context.Context, opts Options) (Backend, error) {
	if opts.Backend != nil {
		return opts.Backend, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	backendOpts := BackendOptions{
		Version: opts.Version,
		Upgrade: opts.Upgrade,
		Logger:  logger,
	}
	if strings.TrimSpace(opts.BackendDSN) != "" {
		return BuildBackendFromDSN(opts.BackendDSN, backendOpts)
	}

	dataDir := strings.TrimSpace(opts.DataDir)
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	dbName := strings.TrimSpace(opts.DBName)
	if dbName == "" {
		dbName = defaultDBName
	}

	durable, err := NewSQLiteBackend(filepath.Join(dataDir, dbName+".db"), opts.Version, opts.Upgrade, logger)
	if err == nil {
		err = durable.Ready(ctx)
		if err == nil {
			return durable, nil
		}
		_ = durable.Close()
	}
	if !opts.UseFallback {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	logger.Printf("durable backend unavailable, using key-value fallback: %v", err)
	return NewKVBackend(filepath.Join(dataDir, dbName+".kv.json"))
}
