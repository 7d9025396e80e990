package sqlbase

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// MarshalJSONB encodes value for a JSONB column as text, since lib/pq sends []byte as bytea.
// Nil maps are stored as SQL NULL.
func MarshalJSONB(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb: %w", err)
	}

	if string(data) == "null" {
		return nil, nil
	}

	return string(data), nil
}

// UnmarshalJSONB decodes a nullable JSONB column into target.
func UnmarshalJSONB(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb: %w", err)
	}

	return nil
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
