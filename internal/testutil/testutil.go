package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// SampleKeyHex is a fixed 32 byte signing key.
const SampleKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// KernelBinary is the content of the raw kernel artifact in the sample workspace.
const KernelBinary = "kernel-binary"

// SampleGraphJSON is a cargo-metadata shaped graph with three workspace members.
// kernel pulls in kcore and spin; spin reaches lock_api and scopeguard, which point
// back at each other. shell depends on kcore and clap.
const SampleGraphJSON = `{
  "packages": [
    {"id": "kernel 0.1.0 (path+file:///ws/kernel)", "name": "kernel", "version": "0.1.0", "targets": [{"name": "kernel", "kind": ["bin"]}]},
    {"id": "kcore 0.1.0 (path+file:///ws/kcore)", "name": "kcore", "version": "0.1.0", "targets": [{"name": "kcore", "kind": ["lib"]}]},
    {"id": "shell 0.2.0 (path+file:///ws/shell)", "name": "shell", "version": "0.2.0", "targets": [{"name": "shell", "kind": ["bin"]}]},
    {"id": "spin 0.9.8 (registry+https://github.com/rust-lang/crates.io-index)", "name": "spin", "version": "0.9.8", "targets": [{"name": "spin", "kind": ["rlib"]}]},
    {"id": "lock_api 0.4.11 (registry+https://github.com/rust-lang/crates.io-index)", "name": "lock_api", "version": "0.4.11", "targets": [{"name": "lock_api", "kind": ["lib"]}]},
    {"id": "scopeguard 1.2.0 (registry+https://github.com/rust-lang/crates.io-index)", "name": "scopeguard", "version": "1.2.0", "targets": [{"name": "scopeguard", "kind": ["lib"]}]},
    {"id": "clap 4.5.0 (registry+https://github.com/rust-lang/crates.io-index)", "name": "clap", "version": "4.5.0", "targets": [{"name": "clap", "kind": ["lib"]}, {"name": "build-script-build", "kind": ["custom-build"]}]}
  ],
  "workspace_members": [
    "kernel 0.1.0 (path+file:///ws/kernel)",
    "kcore 0.1.0 (path+file:///ws/kcore)",
    "shell 0.2.0 (path+file:///ws/shell)"
  ],
  "resolve": {
    "nodes": [
      {"id": "kernel 0.1.0 (path+file:///ws/kernel)", "dependencies": ["kcore 0.1.0 (path+file:///ws/kcore)", "spin 0.9.8 (registry+https://github.com/rust-lang/crates.io-index)"]},
      {"id": "kcore 0.1.0 (path+file:///ws/kcore)", "dependencies": []},
      {"id": "shell 0.2.0 (path+file:///ws/shell)", "dependencies": ["kcore 0.1.0 (path+file:///ws/kcore)", "clap 4.5.0 (registry+https://github.com/rust-lang/crates.io-index)"]},
      {"id": "spin 0.9.8 (registry+https://github.com/rust-lang/crates.io-index)", "dependencies": ["lock_api 0.4.11 (registry+https://github.com/rust-lang/crates.io-index)"]},
      {"id": "lock_api 0.4.11 (registry+https://github.com/rust-lang/crates.io-index)", "dependencies": ["scopeguard 1.2.0 (registry+https://github.com/rust-lang/crates.io-index)"]},
      {"id": "scopeguard 1.2.0 (registry+https://github.com/rust-lang/crates.io-index)", "dependencies": ["lock_api 0.4.11 (registry+https://github.com/rust-lang/crates.io-index)"]},
      {"id": "clap 4.5.0 (registry+https://github.com/rust-lang/crates.io-index)", "dependencies": []}
    ]
  }
}
`

// SampleConfigYAML configures the sample workspace: the kernel binary as a raw
// artifact and the tools tree as an archive.
const SampleConfigYAML = `toolchain:
  package: kernel
  version: 0.1.0
sbom:
  graph_file: graph.json
  primary_roots: [kernel]
package:
  artifacts:
    - name: kernel
      path: target/release/kernel
    - name: tools
      include: ["tools/**"]
      exclude: ["**/*.tmp"]
`

// Workspace is a sample source tree laid out under Root.
type Workspace struct {
	Root       string
	GraphPath  string
	ConfigPath string
	KernelPath string
	KeyPath    string
}

// WriteSampleWorkspace creates the sample tree, dependency graph, project config and
// a signing key file under audit/.
func WriteSampleWorkspace(t *testing.T) Workspace {
	t.Helper()
	root := t.TempDir()
	workspace := Workspace{
		Root:       root,
		GraphPath:  filepath.Join(root, "graph.json"),
		ConfigPath: filepath.Join(root, ".attest", "config.yaml"),
		KernelPath: filepath.Join(root, "target", "release", "kernel"),
		KeyPath:    filepath.Join(root, "audit", "signing.key"),
	}
	WriteFile(t, workspace.GraphPath, []byte(SampleGraphJSON))
	WriteFile(t, workspace.ConfigPath, []byte(SampleConfigYAML))
	WriteFile(t, workspace.KernelPath, []byte(KernelBinary))
	WriteFile(t, workspace.KeyPath, []byte(SampleKeyHex+"\n"))
	WriteFile(t, filepath.Join(root, "tools", "mkimage.sh"), []byte("#!/bin/sh\necho image\n"))
	WriteFile(t, filepath.Join(root, "tools", "lib", "common.sh"), []byte("set -eu\n"))
	WriteFile(t, filepath.Join(root, "tools", "lib", "scratch.tmp"), []byte("ignored\n"))
	return workspace
}

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func CommandExitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected command exit error, got: %v", err)
	}
	return exitErr.ExitCode()
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}
