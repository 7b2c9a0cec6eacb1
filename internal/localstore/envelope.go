package localstore

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the atomic unit of storage: an application payload wrapped
// with identity, timestamps, and a payload schema version.
type Envelope struct {
	ID            string         `json:"id"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
	SchemaVersion int            `json:"schemaVersion"`
	Payload       map[string]any `json:"payload"`
}

// ServerRecord is the flattened shape exchanged with a remote collaborator:
// payload fields at the top level with envelope metadata as siblings.
type ServerRecord map[string]any

// NewID returns a v4 UUID when a secure random source is available, and a
// timestamp-plus-random string otherwise. The fallback is a degraded mode
// only; collisions are considered practically impossible in the UUID path.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%d-%06d", time.Now().UnixNano(), rand.Intn(1000000))
	}
	return id.String()
}

func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// UpdatedTime parses the envelope's last-modified timestamp. Unparseable
// timestamps sort before every valid one.
func (e Envelope) UpdatedTime() time.Time {
	return parseTimestamp(e.UpdatedAt)
}

func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

func cloneEnvelope(env Envelope) Envelope {
	if env.Payload == nil {
		return env
	}
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return env
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return env
	}
	env.Payload = payload
	return env
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var clone map[string]any
	if err := json.Unmarshal(data, &clone); err != nil {
		return payload
	}
	return clone
}
