// Package ledger bundles verified evidence and appends one record per publish to an
// append-only JSON-lines ledger.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidahmann/attest/core/archive"
	"github.com/davidahmann/attest/core/digest"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/execx"
	"github.com/davidahmann/attest/core/fsx"
	"github.com/davidahmann/attest/core/jcs"
	"github.com/davidahmann/attest/core/logging"
	"github.com/davidahmann/attest/core/manifest"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
	"github.com/davidahmann/attest/core/score"
	"github.com/davidahmann/attest/core/sign"
)

// UnversionedSnapshot is recorded when no snapshot id is given and the root is not a
// git checkout.
const UnversionedSnapshot = "unversioned"

type PublishOptions struct {
	Layout     pipeline.Layout
	KeySource  sign.KeySource
	SnapshotID string
	Now        func() time.Time
	Logger     logrus.FieldLogger
}

type PublishResult struct {
	LedgerPath string                   `json:"ledger_path"`
	BundlePath string                   `json:"bundle_path"`
	Entry      schemaattest.LedgerEntry `json:"entry"`
}

// Publish verifies the signature chain, refuses to continue on any failure, then
// writes the evidence bundle and appends one ledger line.
func Publish(opts PublishOptions) (PublishResult, error) {
	log := logging.OrDiscard(opts.Logger)
	layout := opts.Layout
	if err := pipeline.Inspect(layout).Require(pipeline.StagePublish); err != nil {
		return PublishResult{}, err
	}
	report := sign.Verify(layout, opts.KeySource)
	if err := report.Err(); err != nil {
		return PublishResult{}, err
	}
	recorded, err := manifest.Read(layout.ManifestPath())
	if err != nil {
		return PublishResult{}, fmt.Errorf("read manifest: %w", err)
	}

	snapshotID := strings.TrimSpace(opts.SnapshotID)
	if snapshotID == "" {
		snapshotID = UnversionedSnapshot
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	timestamp := now().UTC().Format(time.RFC3339)

	address, err := evidenceAddress(layout, snapshotID, timestamp)
	if err != nil {
		return PublishResult{}, err
	}
	name, err := BundleName(address)
	if err != nil {
		return PublishResult{}, err
	}
	bundlePath := filepath.Join(layout.BundlesDir(), name)
	if err := writeBundle(bundleEntries(layout, recorded), recorded.SourceDateEpoch, bundlePath); err != nil {
		return PublishResult{}, err
	}
	bundle, err := manifest.Hash(layout, name, bundlePath)
	if err != nil {
		return PublishResult{}, fmt.Errorf("hash bundle: %w", err)
	}

	entry := schemaattest.LedgerEntry{
		Timestamp:  timestamp,
		SnapshotID: snapshotID,
		Bundle:     bundle,
		Artifacts:  recorded.Artifacts,
		SBOMs:      recorded.SBOMs,
		TrustScore: score.Compute(score.CriteriaFor(layout, report)),
	}
	line, err := jcs.Marshal(entry)
	if err != nil {
		return PublishResult{}, fmt.Errorf("encode ledger entry: %w", err)
	}
	if err := validate.JSON(validate.KindLedgerEntry, line); err != nil {
		return PublishResult{}, fmt.Errorf("ledger entry failed validation before append: %w", err)
	}
	ledgerPath := layout.LedgerPath()
	if err := fsx.AppendLineLocked(ledgerPath, line, 0o644); err != nil {
		return PublishResult{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, coreerrors.CodeLedgerWriteFailed, "the ledger is append-only; inspect it by hand if its tail is torn", false)
	}

	log.WithFields(logrus.Fields{
		"snapshot_id": snapshotID,
		"bundle":      bundle.Path,
		"trust_score": entry.TrustScore,
	}).Info("ledger entry appended")
	return PublishResult{LedgerPath: ledgerPath, BundlePath: bundlePath, Entry: entry}, nil
}

// BundleAddress is everything a bundle name is derived from.
type BundleAddress struct {
	SnapshotID string `json:"snapshot_id"`
	Timestamp  string `json:"timestamp"`
	Manifest   string `json:"manifest_sha256"`
	Signatures string `json:"signatures_sha256"`
}

// BundleName content-addresses a bundle by its snapshot id, publish timestamp and the
// digests of the manifest and signature set it carries.
func BundleName(address BundleAddress) (string, error) {
	sum, err := jcs.DigestValue(address)
	if err != nil {
		return "", fmt.Errorf("encode bundle address: %w", err)
	}
	return "bundle-" + sum[:16] + ".tar.gz", nil
}

func evidenceAddress(layout pipeline.Layout, snapshotID, timestamp string) (BundleAddress, error) {
	manifestInfo, err := digest.File(layout.ManifestPath())
	if err != nil {
		return BundleAddress{}, fmt.Errorf("hash manifest: %w", err)
	}
	signaturesInfo, err := digest.File(layout.SignaturesPath())
	if err != nil {
		return BundleAddress{}, fmt.Errorf("hash signature set: %w", err)
	}
	return BundleAddress{
		SnapshotID: snapshotID,
		Timestamp:  timestamp,
		Manifest:   manifestInfo.SHA256,
		Signatures: signaturesInfo.SHA256,
	}, nil
}

// writeBundle never replaces a published bundle with different bytes. An existing
// bundle with identical bytes is reused.
func writeBundle(entries []archive.Entry, epoch int64, bundlePath string) error {
	if !fsx.Exists(bundlePath) {
		if err := archive.Write(entries, epoch, archive.CodecGzip, bundlePath); err != nil {
			return fmt.Errorf("write bundle: %w", err)
		}
		return nil
	}
	var buffer bytes.Buffer
	if err := archive.Encode(&buffer, entries, epoch, archive.CodecGzip); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	existing, err := digest.File(bundlePath)
	if err != nil {
		return fmt.Errorf("hash existing bundle: %w", err)
	}
	if !digest.Equal(existing.SHA256, digest.Bytes(buffer.Bytes())) {
		return coreerrors.New(
			coreerrors.CategoryStateContention,
			coreerrors.CodeLedgerWriteFailed,
			"publish again with a different snapshot id or wait for the next second",
			"bundle %s already exists with different content",
			filepath.Base(bundlePath),
		)
	}
	return nil
}

// bundleEntries is the manifest, every SBOM, the signature set and all of their
// signature sidecars, named by base name.
func bundleEntries(layout pipeline.Layout, recorded schemaattest.Manifest) []archive.Entry {
	sources := []string{layout.ManifestPath(), layout.SignaturesPath()}
	for _, sbom := range recorded.SBOMs {
		sources = append(sources, layout.Abs(sbom.Path))
	}
	entries := make([]archive.Entry, 0, len(sources)*2)
	for _, source := range sources {
		sidecar := pipeline.SidecarPath(source)
		entries = append(entries,
			archive.Entry{Name: filepath.Base(source), Source: source},
			archive.Entry{Name: filepath.Base(sidecar), Source: sidecar},
		)
	}
	return entries
}

// ResolveSnapshot returns explicit when set, else the git HEAD revision of root, else
// UnversionedSnapshot.
func ResolveSnapshot(ctx context.Context, root, explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}
	output, err := execx.Output(ctx, execx.Command{Argv: []string{"git", "rev-parse", "HEAD"}, Dir: root})
	if err != nil {
		return UnversionedSnapshot
	}
	if revision := strings.TrimSpace(string(output)); revision != "" {
		return revision
	}
	return UnversionedSnapshot
}
