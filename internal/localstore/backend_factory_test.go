package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildBackendFromDSNSchemes(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		dsn  string
		kind string
	}{
		{"memory://", "memory"},
		{"mem://", "memory"},
		{"file://" + filepath.Join(dir, "kv.json"), "file"},
		{"sqlite://" + filepath.Join(dir, "a.db"), "sqlite"},
		{filepath.Join(dir, "bare.db"), "sqlite"},
	}
	for _, tc := range cases {
		backend, err := BuildBackendFromDSN(tc.dsn, BackendOptions{})
		if err != nil {
			t.Fatalf("dsn %q failed: %v", tc.dsn, err)
		}
		if backend.Kind() != tc.kind {
			t.Fatalf("dsn %q resolved to %q, want %q", tc.dsn, backend.Kind(), tc.kind)
		}
		_ = backend.Close()
	}
}

func TestBuildBackendFromDSNErrors(t *testing.T) {
	if _, err := BuildBackendFromDSN("", BackendOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty dsn, got %v", err)
	}
	if _, err := BuildBackendFromDSN("bolt:///tmp/x.db", BackendOptions{}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := BuildBackendFromDSN("file://", BackendOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty path, got %v", err)
	}
}

func TestRegisteredFactoryOverridesScheme(t *testing.T) {
	called := false
	RegisterBackendFactory("custom", func(dsn string, opts BackendOptions) (Backend, error) {
		called = true
		return NewMemoryBackend(), nil
	})
	backend, err := BuildBackendFromDSN("custom://whatever", BackendOptions{})
	if err != nil {
		t.Fatalf("registered scheme failed: %v", err)
	}
	if !called {
		t.Fatal("registered factory was not invoked")
	}
	if backend.Kind() != "memory" {
		t.Fatalf("unexpected backend kind %q", backend.Kind())
	}
}

func TestOpenBackendPrefersInjected(t *testing.T) {
	injected := NewMemoryBackend()
	backend, err := OpenBackend(context.Background(), Options{Backend: injected, BackendDSN: "file:///should/be/ignored"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if backend != Backend(injected) {
		t.Fatal("injected backend not used")
	}
}

func TestOpenBackendUsesDSN(t *testing.T) {
	backend, err := OpenBackend(context.Background(), Options{BackendDSN: "memory://"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if backend.Kind() != "memory" {
		t.Fatalf("dsn ignored, got kind %q", backend.Kind())
	}
}

func TestOpenBackendDefaultsToDurable(t *testing.T) {
	dir := t.TempDir()
	backend, err := OpenBackend(context.Background(), Options{DataDir: dir, DBName: "app"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer backend.Close()
	if backend.Kind() != "sqlite" {
		t.Fatalf("expected durable backend, got %q", backend.Kind())
	}
	filer, ok := backend.(DataFiler)
	if !ok {
		t.Fatal("durable backend must expose data files")
	}
	want := filepath.Join(dir, "app.db")
	files := filer.DataFiles()
	if len(files) == 0 || files[0] != want {
		t.Fatalf("unexpected data files %v, want first %q", files, want)
	}
}
