package localstore

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	recordKeyID            = "id"
	recordKeyCreatedAt     = "_createdAt"
	recordKeyUpdatedAt     = "_updatedAt"
	recordKeySchemaVersion = "schemaVersion"
)

func isReservedRecordKey(key string) bool {
	switch key {
	case recordKeyID, recordKeyCreatedAt, recordKeyUpdatedAt, recordKeySchemaVersion:
		return true
	}
	return false
}

// ToServerRecord flattens an envelope into the shape remote collaborators
// expect: payload fields at the top level plus id, _createdAt, _updatedAt,
// and schemaVersion as siblings. When a payload field shares a name with one
// of those four keys, the envelope-level value takes precedence and the
// payload value is dropped from the output. That collision rule is accepted
// behavior, not a bug.
func ToServerRecord(env Envelope) ServerRecord {
	record := make(ServerRecord, len(env.Payload)+4)
	for key, value := range env.Payload {
		record[key] = value
	}
	record[recordKeyID] = env.ID
	record[recordKeyCreatedAt] = env.CreatedAt
	record[recordKeyUpdatedAt] = env.UpdatedAt
	version := env.SchemaVersion
	if version == 0 {
		version = 1
	}
	record[recordKeySchemaVersion] = version
	return record
}

// FromServerRecord rebuilds an envelope from a flattened server record.
// Every non-reserved field becomes payload. A record without an id gets a
// timestamp string; missing timestamps default to now, so round-tripping a
// record that never carried timestamps assigns fresh ones rather than
// failing.
func FromServerRecord(record ServerRecord) Envelope {
	payload := make(map[string]any, len(record))
	for key, value := range record {
		if isReservedRecordKey(key) {
			continue
		}
		payload[key] = value
	}

	id := stringField(record[recordKeyID])
	if id == "" {
		id = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	now := nowTimestamp()
	createdAt := stringField(record[recordKeyCreatedAt])
	if createdAt == "" {
		createdAt = now
	}
	updatedAt := stringField(record[recordKeyUpdatedAt])
	if updatedAt == "" {
		updatedAt = now
	}

	version := intField(record[recordKeySchemaVersion])
	if version == 0 {
		version = 1
	}

	return Envelope{
		ID:            id,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		SchemaVersion: version,
		Payload:       payload,
	}
}

func stringField(value any) string {
	s, _ := value.(string)
	return strings.TrimSpace(s)
}

func intField(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case json.Number:
		n, err := typed.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	}
	return 0
}
