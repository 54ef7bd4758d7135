// Package sign computes and checks the HMAC-SHA256 signature chain over the
// manifest, the SBOMs and the signature set itself.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"strings"

	coreerrors "github.com/davidahmann/attest/core/errors"
)

// KeySource says where the signing key comes from. The entry point fills the env
// fields from the process environment; a set, non-empty env value wins over Path.
type KeySource struct {
	EnvName  string
	EnvValue string
	EnvSet   bool
	Path     string
}

// Key is a decoded symmetric signing key.
type Key struct {
	secret []byte
	origin string
}

// LoadKey resolves and decodes the signing key. An absent key is MissingSigningKey;
// an empty, odd length or non-hex key is InvalidSigningKey.
func LoadKey(source KeySource) (Key, error) {
	if source.EnvSet && strings.TrimSpace(source.EnvValue) != "" {
		secret, err := ParseKeyHex(source.EnvValue)
		if err != nil {
			return Key{}, coreerrors.InvalidSigningKey("signing key from $%s: %v", source.EnvName, err)
		}
		return Key{secret: secret, origin: "$" + source.EnvName}, nil
	}
	path := strings.TrimSpace(source.Path)
	if path == "" {
		return Key{}, coreerrors.MissingSigningKey("no signing key: $%s is unset and no key file is configured", source.EnvName)
	}
	// #nosec G304 -- key path is explicit local user input.
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Key{}, coreerrors.MissingSigningKey("no signing key: $%s is unset and %s does not exist", source.EnvName, path)
		}
		return Key{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, coreerrors.CodeMissingSigningKey, "check key file permissions", false)
	}
	secret, err := ParseKeyHex(string(raw))
	if err != nil {
		return Key{}, coreerrors.InvalidSigningKey("signing key file %s: %v", path, err)
	}
	return Key{secret: secret, origin: path}, nil
}

// ParseKeyHex decodes a hex key, ignoring surrounding whitespace.
func ParseKeyHex(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("key is empty")
	}
	if len(trimmed)%2 != 0 {
		return nil, errors.New("key has odd hex length")
	}
	secret, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, errors.New("key is not valid hex")
	}
	return secret, nil
}

// NewKey wraps raw key bytes.
func NewKey(secret []byte) Key {
	return Key{secret: append([]byte(nil), secret...), origin: "memory"}
}

// Origin names where the key was loaded from, never its value.
func (key Key) Origin() string {
	return key.origin
}

// Fingerprint is the first 16 hex characters of SHA-256 over the key bytes.
func (key Key) Fingerprint() string {
	sum := sha256.Sum256(key.secret)
	return hex.EncodeToString(sum[:])[:16]
}

// Sum returns the lowercase hex HMAC-SHA256 of data.
func (key Key) Sum(data []byte) string {
	mac := hmac.New(sha256.New, key.secret)
	_, _ = mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether signatureHex is the HMAC of data, in constant time.
func (key Key) Matches(data []byte, signatureHex string) bool {
	expected, err := hex.DecodeString(key.Sum(data))
	if err != nil {
		return false
	}
	actual, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, actual)
}
