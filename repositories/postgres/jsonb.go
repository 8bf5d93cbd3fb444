package postgres

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// marshalMetadata encodes a metadata map for a JSONB column; nil becomes {}
func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// unmarshalMetadata decodes a JSONB column keeping numbers as json.Number so
// they hash the way they were stored. Non-object values decode to an empty map.
func unmarshalMetadata(data []byte) map[string]interface{} {
	out := map[string]interface{}{}
	if len(data) == 0 {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
