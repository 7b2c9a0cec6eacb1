package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/agentworkforce/statesync/internal/httpapi"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("STATESYNC_CONFIG")), "path to YAML config file")
	flag.Parse()

	config := httpapi.DefaultConfig()
	if *configPath != "" {
		loaded, err := httpapi.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		config = loaded
	}
	applyEnvOverrides(config)

	store, err := httpapi.BuildRecordStoreFromDSN(config.Storage.RecordsDSN)
	if err != nil {
		log.Fatalf("failed to initialize record store: %v", err)
	}
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:    config.Server.JWTSecret,
		MaxBodyBytes: config.Server.MaxBodyBytes,
	})

	log.Printf("statesync server listening on %s", config.Server.Addr)
	if err := http.ListenAndServe(config.Server.Addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func applyEnvOverrides(config *httpapi.Config) {
	if addr := strings.TrimSpace(os.Getenv("STATESYNC_ADDR")); addr != "" {
		config.Server.Addr = addr
	}
	if secret := strings.TrimSpace(os.Getenv("STATESYNC_JWT_SECRET")); secret != "" {
		config.Server.JWTSecret = secret
	}
	if dsn := strings.TrimSpace(os.Getenv("STATESYNC_RECORDS_DSN")); dsn != "" {
		config.Storage.RecordsDSN = dsn
	}
	if raw := strings.TrimSpace(os.Getenv("STATESYNC_MAX_BODY_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Printf("invalid STATESYNC_MAX_BODY_BYTES=%q, keeping %d", raw, config.Server.MaxBodyBytes)
			return
		}
		config.Server.MaxBodyBytes = value
	}
}
