package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalJSON renders v as deterministic JSON: object keys sorted at every
// nesting level, integral floats rendered without a decimal point, nulls
// preserved, no HTML escaping and no trailing newline. Two values with the
// same content produce byte-identical output regardless of map insertion
// order, which is what makes the entry and certificate hashes stable.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalHash returns the lowercase hex SHA-256 of the canonical JSON
// rendering of v.
func CanonicalHash(v any) (string, error) {
	raw, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
