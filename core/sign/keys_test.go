package sign

import (
	"os"
	"path/filepath"
	"testing"

	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/internal/testutil"
)

func TestLoadKeyPrefersEnv(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	if err := os.WriteFile(keyPath, []byte(testutil.SampleKeyHex+"\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	fromFile, err := LoadKey(KeySource{EnvName: "ATTEST_SIGNING_KEY", Path: keyPath})
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	fromEnv, err := LoadKey(KeySource{EnvName: "ATTEST_SIGNING_KEY", EnvSet: true, EnvValue: "  abcd  ", Path: keyPath})
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if fromFile.Fingerprint() == fromEnv.Fingerprint() {
		t.Fatal("env key must win over the key file")
	}
	if fromEnv.Origin() != "$ATTEST_SIGNING_KEY" || fromFile.Origin() != keyPath {
		t.Fatalf("unexpected origins: %s %s", fromEnv.Origin(), fromFile.Origin())
	}

	blankEnv, err := LoadKey(KeySource{EnvName: "ATTEST_SIGNING_KEY", EnvSet: true, EnvValue: " ", Path: keyPath})
	if err != nil {
		t.Fatalf("blank env should fall back to file: %v", err)
	}
	if blankEnv.Fingerprint() != fromFile.Fingerprint() {
		t.Fatal("blank env should fall back to file")
	}
}

func TestLoadKeyErrors(t *testing.T) {
	dir := t.TempDir()
	testCases := []struct {
		name   string
		source KeySource
		code   string
	}{
		{name: "no_sources", source: KeySource{EnvName: "K"}, code: coreerrors.CodeMissingSigningKey},
		{name: "missing_file", source: KeySource{EnvName: "K", Path: filepath.Join(dir, "absent.key")}, code: coreerrors.CodeMissingSigningKey},
		{name: "odd_env", source: KeySource{EnvName: "K", EnvSet: true, EnvValue: "abc"}, code: coreerrors.CodeInvalidSigningKey},
		{name: "non_hex_env", source: KeySource{EnvName: "K", EnvSet: true, EnvValue: "zz"}, code: coreerrors.CodeInvalidSigningKey},
	}
	emptyFile := filepath.Join(dir, "empty.key")
	if err := os.WriteFile(emptyFile, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	testCases = append(testCases, struct {
		name   string
		source KeySource
		code   string
	}{name: "empty_file", source: KeySource{EnvName: "K", Path: emptyFile}, code: coreerrors.CodeInvalidSigningKey})

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, err := LoadKey(testCase.source)
			if coreerrors.CodeOf(err) != testCase.code {
				t.Fatalf("expected %s, got %v", testCase.code, err)
			}
		})
	}
}

func TestFingerprintAndSum(t *testing.T) {
	key := NewKey([]byte("secret"))
	if len(key.Fingerprint()) != 16 {
		t.Fatalf("unexpected fingerprint: %s", key.Fingerprint())
	}
	// RFC 4231 test case 2.
	jefe := NewKey([]byte("Jefe"))
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got := jefe.Sum([]byte("what do ya want for nothing?")); got != want {
		t.Fatalf("unexpected hmac: %s", got)
	}
	if !jefe.Matches([]byte("what do ya want for nothing?"), want+"\n") {
		t.Fatal("expected sidecar match with trailing newline")
	}
	if jefe.Matches([]byte("what do ya want for nothing!"), want) || jefe.Matches(nil, "not-hex") {
		t.Fatal("unexpected match")
	}
}
