package ledger

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/davidahmann/attest/core/archive"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/pipeline"
	"github.com/davidahmann/attest/core/score"
	"github.com/davidahmann/attest/internal/attesttest"
	"github.com/davidahmann/attest/internal/testutil"
)

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time {
		return time.Unix(seconds, 0)
	}
}

func ledgerLines(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	trimmed := strings.TrimSuffix(string(content), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestBundleNameIsContentAddressed(t *testing.T) {
	address := BundleAddress{
		SnapshotID: "abc123",
		Timestamp:  "2024-01-01T00:00:00Z",
		Manifest:   strings.Repeat("a", 64),
		Signatures: strings.Repeat("b", 64),
	}
	first, err := BundleName(address)
	if err != nil {
		t.Fatalf("bundle name: %v", err)
	}
	again, err := BundleName(address)
	if err != nil {
		t.Fatalf("bundle name: %v", err)
	}
	if first != again {
		t.Fatalf("equal addresses must name the same bundle: %s %s", first, again)
	}
	otherSnapshot := address
	otherSnapshot.SnapshotID = "abc124"
	otherManifest := address
	otherManifest.Manifest = strings.Repeat("c", 64)
	for _, changed := range []BundleAddress{otherSnapshot, otherManifest} {
		name, err := BundleName(changed)
		if err != nil {
			t.Fatalf("bundle name: %v", err)
		}
		if name == first {
			t.Fatalf("expected a distinct name for %+v", changed)
		}
	}
	if !strings.HasPrefix(first, "bundle-") || !strings.HasSuffix(first, ".tar.gz") || len(first) != len("bundle-")+16+len(".tar.gz") {
		t.Fatalf("unexpected bundle name shape: %s", first)
	}
}

func TestPublishAppendsOneLinePerSuccess(t *testing.T) {
	fixture := attesttest.Signed(t)
	opts := PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource, SnapshotID: "abc123", Now: fixedClock(1700000000)}

	result, err := Publish(opts)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	lines := ledgerLines(t, fixture.Layout.LedgerPath())
	if len(lines) != 1 {
		t.Fatalf("expected one ledger line, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], `{"artifacts":[`) {
		t.Fatalf("ledger line must be canonical json with sorted keys: %s", lines[0])
	}
	if result.Entry.SnapshotID != "abc123" || result.Entry.Timestamp != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected entry: %+v", result.Entry)
	}
	if result.Entry.TrustScore != 1.0 {
		t.Fatalf("expected computed trust score 1.0, got %v", result.Entry.TrustScore)
	}
	if !strings.HasPrefix(result.Entry.Bundle.Path, "audit/bundles/bundle-") {
		t.Fatalf("unexpected bundle path: %s", result.Entry.Bundle.Path)
	}

	opts.Now = fixedClock(1700000100)
	if _, err := Publish(opts); err != nil {
		t.Fatalf("publish again: %v", err)
	}
	after := ledgerLines(t, fixture.Layout.LedgerPath())
	if len(after) != 2 || after[0] != lines[0] {
		t.Fatalf("ledger must grow by one line and keep history, got %d lines", len(after))
	}

	report, err := Audit(fixture.Layout)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.OK() || report.Lines != 2 {
		t.Fatalf("unexpected audit report: %+v", report)
	}
}

func TestPublishRefusesWhenVerificationFails(t *testing.T) {
	fixture := attesttest.Signed(t)
	opts := PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource, SnapshotID: "abc123", Now: fixedClock(1700000000)}
	if _, err := Publish(opts); err != nil {
		t.Fatalf("publish: %v", err)
	}
	before := testutil.MustReadFile(t, fixture.Layout.LedgerPath())

	if err := os.WriteFile(fixture.Workspace.KernelPath, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	opts.Now = fixedClock(1700000500)
	_, err := Publish(opts)
	if err == nil {
		t.Fatal("expected publish to refuse")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryVerification || !strings.Contains(err.Error(), "target/release/kernel") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(before, testutil.MustReadFile(t, fixture.Layout.LedgerPath())) {
		t.Fatal("ledger changed after a refused publish")
	}
	bundles, err := os.ReadDir(fixture.Layout.BundlesDir())
	if err != nil {
		t.Fatalf("read bundles: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("refused publish must not write a bundle, got %d", len(bundles))
	}
}

func TestPublishWithoutKeyDoesNotTouchLedger(t *testing.T) {
	fixture := attesttest.Signed(t)
	opts := PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource}
	opts.KeySource.Path = filepath.Join(fixture.Workspace.Root, "absent.key")
	if _, err := Publish(opts); coreerrors.CategoryOf(err) != coreerrors.CategoryVerification {
		t.Fatalf("expected verification failure, got %v", err)
	}
	if len(ledgerLines(t, fixture.Layout.LedgerPath())) != 0 {
		t.Fatal("ledger must not exist after a refused publish")
	}
}

func TestPublishRequiresSignedState(t *testing.T) {
	fixture := attesttest.Packaged(t)
	_, err := Publish(PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource})
	if coreerrors.CodeOf(err) != coreerrors.CodePreconditionFailed {
		t.Fatalf("expected precondition failure, got %v", err)
	}
}

func TestPublishScoresTheEvidenceItVerified(t *testing.T) {
	fixture := attesttest.Signed(t)
	original := testutil.MustReadFile(t, fixture.Workspace.KernelPath)
	if err := os.WriteFile(fixture.Workspace.KernelPath, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	stale, err := score.Evaluate(fixture.Layout, fixture.KeySource, pipeline.EpochTimestamp(0), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if stale.Record.TrustScore != 0 {
		t.Fatalf("expected 0.0 on the tampered tree, got %v", stale.Record.TrustScore)
	}
	if err := os.WriteFile(fixture.Workspace.KernelPath, original, 0o600); err != nil {
		t.Fatalf("restore: %v", err)
	}

	result, err := Publish(PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource, Now: fixedClock(0)})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.Entry.TrustScore != 1.0 || result.Entry.SnapshotID != UnversionedSnapshot {
		t.Fatalf("ledger must record the score of the verified evidence: %+v", result.Entry)
	}
}

func TestRepublishInSameSecondKeepsEarlierBundle(t *testing.T) {
	fixture := attesttest.Signed(t)
	opts := PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource, SnapshotID: "abc123", Now: fixedClock(1700000000)}
	first, err := Publish(opts)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	firstBundle := testutil.MustReadFile(t, first.BundlePath)

	if err := os.WriteFile(fixture.Workspace.KernelPath, []byte("rebuilt kernel"), 0o600); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	attesttest.Reseal(t, fixture)
	second, err := Publish(opts)
	if err != nil {
		t.Fatalf("publish resealed evidence: %v", err)
	}
	if second.BundlePath == first.BundlePath {
		t.Fatalf("resealed evidence must get its own bundle: %s", second.BundlePath)
	}
	if !bytes.Equal(firstBundle, testutil.MustReadFile(t, first.BundlePath)) {
		t.Fatal("earlier bundle was rewritten")
	}
	report, err := Audit(fixture.Layout)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.OK() || report.Lines != 2 {
		t.Fatalf("unexpected audit report: %+v", report)
	}
}

func TestWriteBundleNeverReplacesDifferentBytes(t *testing.T) {
	fixture := attesttest.Signed(t)
	entries := []archive.Entry{{Name: "artifacts.manifest.json", Source: fixture.Layout.ManifestPath()}}
	bundlePath := filepath.Join(fixture.Layout.BundlesDir(), "bundle-0000000000000000.tar.gz")

	if err := writeBundle(entries, 0, bundlePath); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	written := testutil.MustReadFile(t, bundlePath)
	if err := writeBundle(entries, 0, bundlePath); err != nil {
		t.Fatalf("identical bundle must be reused: %v", err)
	}

	testutil.WriteFile(t, bundlePath, []byte("someone else's bundle"))
	err := writeBundle(entries, 0, bundlePath)
	if coreerrors.CategoryOf(err) != coreerrors.CategoryStateContention {
		t.Fatalf("expected state contention, got %v", err)
	}
	if string(testutil.MustReadFile(t, bundlePath)) != "someone else's bundle" {
		t.Fatal("existing bundle must be left untouched")
	}
	if len(written) == 0 {
		t.Fatal("expected a non-empty bundle")
	}
}

func TestBundleContents(t *testing.T) {
	fixture := attesttest.Signed(t)
	result, err := Publish(PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource, SnapshotID: "s", Now: fixedClock(5)})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	file, err := os.Open(result.BundlePath)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer func() {
		_ = file.Close()
	}()
	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	reader := tar.NewReader(gzipReader)
	var names []string
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		names = append(names, header.Name)
	}
	expected := []string{
		"SBOM.kernel.cdx.json", "SBOM.kernel.cdx.json.sig",
		"SBOM.userland.cdx.json", "SBOM.userland.cdx.json.sig",
		"artifacts.manifest.json", "artifacts.manifest.json.sig",
		"signatures.json", "signatures.json.sig",
	}
	sort.Strings(expected)
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Fatalf("unexpected bundle entries: %v", names)
	}
}

func TestAuditDetectsChangedBundle(t *testing.T) {
	fixture := attesttest.Signed(t)
	result, err := Publish(PublishOptions{Layout: fixture.Layout, KeySource: fixture.KeySource, SnapshotID: "s", Now: fixedClock(5)})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := os.WriteFile(result.BundlePath, []byte("replaced"), 0o600); err != nil {
		t.Fatalf("replace bundle: %v", err)
	}
	report, err := Audit(fixture.Layout)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.OK() || report.Problems[0].Code != coreerrors.CodeDigestMismatch || report.Problems[0].Line != 1 {
		t.Fatalf("unexpected audit report: %+v", report)
	}
	if report.Err() == nil {
		t.Fatal("expected raised audit error")
	}
}

func TestAuditEmptyAndMalformedLedger(t *testing.T) {
	layout := attesttest.Layout(t.TempDir())
	report, err := Audit(layout)
	if err != nil || !report.OK() || report.Lines != 0 {
		t.Fatalf("missing ledger should audit clean: %+v %v", report, err)
	}

	testutil.WriteFile(t, layout.LedgerPath(), []byte("{\"not\":\"an entry\"}\n{\"torn\""))
	report, err = Audit(layout)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Lines != 2 || len(report.Problems) != 3 {
		t.Fatalf("expected torn tail and two schema problems, got %+v", report)
	}
}

func TestResolveSnapshot(t *testing.T) {
	if got := ResolveSnapshot(context.Background(), t.TempDir(), " rev-1 "); got != "rev-1" {
		t.Fatalf("explicit snapshot must win, got %s", got)
	}
	if got := ResolveSnapshot(context.Background(), t.TempDir(), ""); got != UnversionedSnapshot {
		t.Fatalf("expected unversioned outside a git checkout, got %s", got)
	}
}
