package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenerateKey derives a deterministic cache key from a namespace and a
// parameter set. Parameters are canonicalized before hashing, so logically
// equal sets produce the same key regardless of field ordering.
func GenerateKey(namespace string, params any) string {
	data, err := canonicalJSON(params)
	if err != nil {
		// Marshal failures fall back to a deterministic string render so a
		// key is always produced.
		data = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:16])
}

// canonicalJSON round-trips params through a generic value so struct field
// order and map iteration order do not leak into the encoding: encoding/json
// sorts map keys deterministically.
func canonicalJSON(params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
