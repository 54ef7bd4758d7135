package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	coreerrors "github.com/davidahmann/attest/core/errors"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{
		Root:           root,
		AuditDir:       filepath.Join(root, "audit"),
		DistDir:        filepath.Join(root, "dist"),
		MetricsDir:     filepath.Join(root, "metrics"),
		PrimaryLabel:   "kernel",
		SecondaryLabel: "userland",
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLayoutPaths(t *testing.T) {
	layout := testLayout(t)
	if got := layout.SBOMPath("kernel"); got != filepath.Join(layout.AuditDir, "SBOM.kernel.cdx.json") {
		t.Fatalf("unexpected sbom path: %s", got)
	}
	if got := SidecarPath(layout.ManifestPath()); got != filepath.Join(layout.AuditDir, "artifacts.manifest.json.sig") {
		t.Fatalf("unexpected sidecar path: %s", got)
	}
	if got := layout.TrustScorePath(); got != filepath.Join(layout.MetricsDir, "trust_score.json") {
		t.Fatalf("unexpected trust score path: %s", got)
	}
	if got := layout.ArchivePath("tools", ".tar.gz"); got != filepath.Join(layout.DistDir, "tools.tar.gz") {
		t.Fatalf("unexpected archive path: %s", got)
	}
}

func TestRelAndAbs(t *testing.T) {
	layout := testLayout(t)
	inside := filepath.Join(layout.Root, "target", "release", "kernel")
	if got := layout.Rel(inside); got != "target/release/kernel" {
		t.Fatalf("unexpected relative path: %s", got)
	}
	if got := layout.Abs("target/release/kernel"); got != inside {
		t.Fatalf("unexpected absolute path: %s", got)
	}

	outside := filepath.Join(filepath.Dir(layout.Root), "elsewhere", "file")
	recorded := layout.Rel(outside)
	if !filepath.IsAbs(filepath.FromSlash(recorded)) {
		t.Fatalf("expected absolute path for file outside root, got %s", recorded)
	}
	if got := layout.Abs(recorded); got != filepath.Clean(outside) {
		t.Fatalf("round trip mismatch: %s != %s", got, outside)
	}
}

func TestStageString(t *testing.T) {
	names := []string{StageSBOM.String(), StagePackage.String(), StageSign.String(), StageScore.String(), StagePublish.String()}
	if strings.Join(names, ",") != "sbom,package,sign,score,publish" {
		t.Fatalf("unexpected stage names: %v", names)
	}
	if Stage(42).String() != "unknown" {
		t.Fatalf("expected unknown stage name")
	}
}

func TestEpochTimestamp(t *testing.T) {
	if got := EpochTimestamp(0); got != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected epoch timestamp: %s", got)
	}
	if got := EpochTimestamp(1700000000); got != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected epoch timestamp: %s", got)
	}
}

func TestInspectAndRequire(t *testing.T) {
	layout := testLayout(t)

	state := Inspect(layout)
	if state.Completed[StageSBOM] || state.Completed[StagePackage] || state.Completed[StageSign] {
		t.Fatalf("expected empty state, got %+v", state.Completed)
	}
	if err := state.Require(StageSBOM); err != nil {
		t.Fatalf("sbom has no preconditions: %v", err)
	}
	err := state.Require(StageSign)
	if err == nil {
		t.Fatal("expected sign precondition failure")
	}
	if coreerrors.CodeOf(err) != coreerrors.CodePreconditionFailed {
		t.Fatalf("unexpected code: %s", coreerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "audit/artifacts.manifest.json") || !strings.Contains(err.Error(), "audit/SBOM.userland.cdx.json") {
		t.Fatalf("expected missing outputs named, got %v", err)
	}

	for _, path := range layout.SBOMPaths() {
		touch(t, path)
	}
	touch(t, layout.ManifestPath())
	state = Inspect(layout)
	if !state.Completed[StageSBOM] || !state.Completed[StagePackage] {
		t.Fatalf("expected sbom and package complete, got %+v", state.Completed)
	}
	if err := state.Require(StageSign); err != nil {
		t.Fatalf("sign should be ready: %v", err)
	}
	if err := state.Require(StagePublish); err == nil {
		t.Fatal("expected publish precondition failure before signing")
	}

	touch(t, SidecarPath(layout.ManifestPath()))
	touch(t, layout.SignaturesPath())
	touch(t, SidecarPath(layout.SignaturesPath()))
	state = Inspect(layout)
	if err := state.Require(StagePublish); err != nil {
		t.Fatalf("publish should be ready: %v", err)
	}
	if err := state.Require(StageScore); err != nil {
		t.Fatalf("score has no preconditions: %v", err)
	}
}
