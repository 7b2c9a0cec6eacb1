package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const writeNotifyTimeout = 5 * time.Second

const (
	scopeRecordsRead  = "records:read"
	scopeRecordsWrite = "records:write"
)

type ServerConfig struct {
	JWTSecret    string
	MaxBodyBytes int64
}

// Server is the remote collaborator's HTTP surface: batch record pull and
// push per user and collection, plus a websocket change feed. It performs
// no conflict resolution of its own; the sync engine on each client owns
// the merge.
type Server struct {
	store RecordStore
	cfg   ServerConfig
	hub   *watchHub
}

func NewServer(store RecordStore) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store RecordStore, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	return &Server{
		store: store,
		cfg:   cfg,
		hub:   newWatchHub(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 6 || parts[0] != "v1" || parts[1] != "users" || parts[3] != "collections" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	userID := parts[2]
	collection := parts[4]
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(collection) == "" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	switch parts[5] {
	case "records":
		switch r.Method {
		case http.MethodGet:
			s.handleListRecords(w, r, userID, collection)
		case http.MethodPut:
			s.handlePutRecords(w, r, userID, collection)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
	case "watch":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		s.handleWatch(w, r, userID, collection)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request, userID, collection string) {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, userID, scopeRecordsRead, time.Now()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	records, err := s.store.List(r.Context(), userID, collection)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handlePutRecords(w http.ResponseWriter, r *http.Request, userID, collection string) {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, userID, scopeRecordsWrite, time.Now()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
		return
	}
	var payload struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a records batch")
		return
	}
	if err := s.store.PutBatch(r.Context(), userID, collection, payload.Records); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.hub.broadcast(watchKey(userID, collection))
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "count": len(payload.Records)})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, userID, collection string) {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, userID, scopeRecordsRead, time.Now()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	s.hub.serveWatch(w, r, watchKey(userID, collection))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
