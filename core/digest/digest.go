// Package digest computes the SHA-256 digests recorded for artifacts and SBOMs.
package digest

import (
	_ "crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// FileInfo is the digest and size of one file on disk.
type FileInfo struct {
	SHA256 string
	Size   int64
}

// File streams path through SHA-256 and returns the lowercase hex digest and size.
func File(path string) (FileInfo, error) {
	// #nosec G304 -- artifact paths come from the pipeline layout or manifest.
	file, err := os.Open(path)
	if err != nil {
		return FileInfo{}, err
	}
	defer func() {
		_ = file.Close()
	}()
	counter := &countingReader{reader: file}
	sum, err := godigest.SHA256.FromReader(counter)
	if err != nil {
		return FileInfo{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return FileInfo{SHA256: sum.Encoded(), Size: counter.count}, nil
}

// Bytes returns the lowercase hex SHA-256 of data.
func Bytes(data []byte) string {
	return godigest.SHA256.FromBytes(data).Encoded()
}

// ValidateHex checks that value is a well-formed lowercase SHA-256 hex digest.
func ValidateHex(value string) error {
	if value != strings.ToLower(value) {
		return fmt.Errorf("digest must be lowercase hex")
	}
	return godigest.NewDigestFromEncoded(godigest.SHA256, value).Validate()
}

// Equal compares two hex digests case-insensitively.
func Equal(left, right string) bool {
	return strings.EqualFold(strings.TrimSpace(left), strings.TrimSpace(right))
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.count += int64(n)
	return n, err
}
