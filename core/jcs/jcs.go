package jcs

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/davidahmann/attest/core/digest"
)

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// Marshal encodes value as canonical single-line JSON. Ledger records and content
// addresses are built from this form so that equal records always encode equally.
func Marshal(value any) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	canonical, err := CanonicalizeJSON(encoded)
	if err != nil {
		return nil, fmt.Errorf("canonicalize json: %w", err)
	}
	return canonical, nil
}

// DigestValue returns the sha256 hex digest of the canonical encoding of value.
func DigestValue(value any) (string, error) {
	canonical, err := Marshal(value)
	if err != nil {
		return "", err
	}
	return digest.Bytes(canonical), nil
}
