package fsx

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomicCreatesAndOverwrites(t *testing.T) {
	target := filepath.Join(t.TempDir(), "audit", "artifacts.manifest.json")

	if err := WriteFileAtomic(target, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read first write: %v", err)
	}
	if string(first) != "first\n" {
		t.Fatalf("unexpected first content: %q", string(first))
	}

	if err := WriteFileAtomic(target, []byte("second\n"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	second, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read second write: %v", err)
	}
	if string(second) != "second\n" {
		t.Fatalf("unexpected second content: %q", string(second))
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "signatures.json")
	if err := WriteFileAtomic(target, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat file: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("expected mode 0644 got %#o", info.Mode().Perm())
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "present.sig")
	if Exists(target) {
		t.Fatalf("expected missing file to report false")
	}
	if err := os.WriteFile(target, []byte("ab\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if !Exists(target) {
		t.Fatalf("expected written file to report true")
	}
	if Exists(dir) {
		t.Fatalf("expected directory to report false")
	}
}

func TestWriteAtomicLeavesDestinationOnFailure(t *testing.T) {
	target := filepath.Join(t.TempDir(), "dist", "tools.tar.gz")
	if err := WriteFileAtomic(target, []byte("previous"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := WriteAtomic(target, 0o644, func(w io.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return errors.New("stream broke")
	})
	if err == nil || !strings.Contains(err.Error(), "stream broke") {
		t.Fatalf("expected stream error, got %v", err)
	}
	content, readErr := os.ReadFile(target)
	if readErr != nil {
		t.Fatalf("read: %v", readErr)
	}
	if string(content) != "previous" {
		t.Fatalf("destination changed: %q", content)
	}
	entries, readDirErr := os.ReadDir(filepath.Dir(target))
	if readDirErr != nil {
		t.Fatalf("read dir: %v", readDirErr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file cleaned up, got %d entries", len(entries))
	}
}
