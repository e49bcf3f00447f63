package store

import (
	"database/sql"
	"encoding/json"
)

// marshalStrings converts []string to JSON text for storage. A nil slice
// is stored as NULL so "unknown" survives the round trip.
func marshalStrings(ss []string) sql.NullString {
	if ss == nil {
		return sql.NullString{}
	}
	if len(ss) == 0 {
		return sql.NullString{String: "[]", Valid: true}
	}
	b, _ := json.Marshal(ss)
	return sql.NullString{String: string(b), Valid: true}
}

// unmarshalStrings converts JSON text back to []string.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var ss []string
	_ = json.Unmarshal([]byte(s), &ss)
	return ss
}

func marshalHints(h RebuildHints) string {
	b, _ := json.Marshal(h)
	return string(b)
}
