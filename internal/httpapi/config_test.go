package httpapi

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	contents := `
server:
  addr: ":9090"
  jwt_secret: "prod-secret"
storage:
  records_dsn: "postgres://db/statesync"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if config.Server.Addr != ":9090" {
		t.Fatalf("addr not read: %q", config.Server.Addr)
	}
	if config.Server.JWTSecret != "prod-secret" {
		t.Fatalf("jwt secret not read: %q", config.Server.JWTSecret)
	}
	if config.Storage.RecordsDSN != "postgres://db/statesync" {
		t.Fatalf("records dsn not read: %q", config.Storage.RecordsDSN)
	}
	// Unset fields keep their defaults.
	if config.Server.MaxBodyBytes != 4<<20 {
		t.Fatalf("max body bytes default not applied: %d", config.Server.MaxBodyBytes)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [not a mapping"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.Server.Addr != ":8080" {
		t.Fatalf("unexpected default addr %q", config.Server.Addr)
	}
	if config.Server.JWTSecret != "dev-secret" {
		t.Fatalf("unexpected default secret %q", config.Server.JWTSecret)
	}
	if config.Storage.RecordsDSN != "memory://" {
		t.Fatalf("unexpected default dsn %q", config.Storage.RecordsDSN)
	}
}
