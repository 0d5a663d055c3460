// Package confighash produces stable hashes of configuration objects so two
// deployments can tell whether they run the same configuration.
package confighash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SortKeysRecursively converts v into plain JSON data. Objects become maps,
// which encoding/json always writes with sorted keys.
func SortKeysRecursively(v interface{}) (interface{}, error) {
	data, err := encode(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// SerializePlainObject returns the deterministic JSON encoding of v.
func SerializePlainObject(v interface{}) (string, error) {
	sorted, err := SortKeysRecursively(v)
	if err != nil {
		return "", err
	}
	data, err := encode(sorted)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateSHA256Hash returns the hex encoded SHA-256 digest of value.
func CreateSHA256Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Hash serializes v deterministically and hashes the result.
func Hash(v interface{}) (string, error) {
	serialized, err := SerializePlainObject(v)
	if err != nil {
		return "", err
	}
	return CreateSHA256Hash(serialized), nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return []byte(strings.TrimSuffix(buf.String(), "\n")), nil
}
