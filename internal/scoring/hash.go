package scoring

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestHash computes the stable content hash for a scoring request:
// SHA-256 over "featureVersion:txHash:canonicalPayload". The payload is
// serialized in canonical form — object keys sorted lexicographically at
// every depth, array order preserved, absent fields dropped — so two
// semantically equal payloads hash identically regardless of how their
// fields were assembled. Any change to a non-omitted field changes the hash.
func RequestHash(featureVersion, txHash string, payload any) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(featureVersion))
	h.Write([]byte{':'})
	h.Write([]byte(txHash))
	h.Write([]byte{':'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON renders v as deterministic JSON. The round trip through an
// untyped tree normalizes struct field ordering: encoding/json always writes
// map keys sorted, so re-encoding the decoded tree sorts every object.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep big numerics textually intact
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	return json.Marshal(tree)
}
