package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the stored form of a cached value.
// Integrity is the hex SHA-256 of the compact JSON encoding of Value.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp string          `json:"timestamp"`
	Integrity string          `json:"integrity"`
}

func newEntry(value any, now time.Time) (Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	sum, err := integrityOf(data)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Value:     data,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Integrity: sum,
	}, nil
}

// valid recomputes the hash of Value and compares it with Integrity
func (e Entry) valid() bool {
	if e.Integrity == "" || len(e.Value) == 0 {
		return false
	}
	sum, err := integrityOf(e.Value)
	if err != nil {
		return false
	}
	return sum == e.Integrity
}

func integrityOf(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("cache value is not valid JSON: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
