package internal

import (
	"encoding/json"
	"fmt"
)

// Serialization Strategy
// ======================
//
// Rows are stored as JSON (human-readable, tolerant to added fields) and
// index entries as raw big-endian IDs or raw keys. Rows are small, so the
// size overhead of JSON does not matter next to its debuggability.

// encodeRow serializes a row value to JSON bytes.
func encodeRow(table string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s row: %w", table, err)
	}
	return b, nil
}

// decodeRow deserializes JSON bytes into a new T.
func decodeRow[T any](table string, b []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
	}
	return &v, nil
}
