package sign

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/davidahmann/attest/core/fsx"
	"github.com/davidahmann/attest/core/logging"
	"github.com/davidahmann/attest/core/manifest"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
)

type Result struct {
	SignaturesPath string                         `json:"signatures_path"`
	KeyFingerprint string                         `json:"key_fingerprint"`
	Signatures     []schemaattest.SignatureRecord `json:"signatures"`
}

// Sign writes a sidecar signature for the manifest and every SBOM it records, then
// the signature set and a sidecar over the signature set's own bytes.
func Sign(layout pipeline.Layout, key Key, logger logrus.FieldLogger) (Result, error) {
	log := logging.OrDiscard(logger)
	if err := pipeline.Inspect(layout).Require(pipeline.StageSign); err != nil {
		return Result{}, err
	}
	manifestPath := layout.ManifestPath()
	recorded, err := manifest.Read(manifestPath)
	if err != nil {
		return Result{}, fmt.Errorf("read manifest: %w", err)
	}

	sources := signedSources(layout, recorded)
	records := make([]schemaattest.SignatureRecord, 0, len(sources))
	for _, source := range sources {
		record, err := signFile(layout, key, source)
		if err != nil {
			return Result{}, err
		}
		records = append(records, record)
	}

	set := schemaattest.SignatureSet{
		GeneratedAt:    recorded.GeneratedAt,
		Algorithm:      schemaattest.AlgorithmHMACSHA256,
		KeyFingerprint: key.Fingerprint(),
		Signatures:     records,
	}
	encoded, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshal signature set: %w", err)
	}
	encoded = append(encoded, '\n')
	if err := validate.JSON(validate.KindSignatures, encoded); err != nil {
		return Result{}, fmt.Errorf("signature set failed validation before write: %w", err)
	}
	signaturesPath := layout.SignaturesPath()
	if err := fsx.WriteFileAtomic(signaturesPath, encoded, 0o644); err != nil {
		return Result{}, fmt.Errorf("write signature set: %w", err)
	}
	if err := writeSidecar(signaturesPath, key.Sum(encoded)); err != nil {
		return Result{}, err
	}

	log.WithFields(logrus.Fields{
		"signatures":      len(records),
		"key_fingerprint": set.KeyFingerprint,
		"key_origin":      key.Origin(),
	}).Info("signature chain written")
	return Result{SignaturesPath: signaturesPath, KeyFingerprint: set.KeyFingerprint, Signatures: records}, nil
}

// signedSources is the manifest followed by every recorded SBOM, sorted by path.
func signedSources(layout pipeline.Layout, recorded schemaattest.Manifest) []string {
	sboms := make([]string, 0, len(recorded.SBOMs))
	for _, sbom := range recorded.SBOMs {
		sboms = append(sboms, layout.Abs(sbom.Path))
	}
	sort.Strings(sboms)
	return append([]string{layout.ManifestPath()}, sboms...)
}

func signFile(layout pipeline.Layout, key Key, source string) (schemaattest.SignatureRecord, error) {
	// #nosec G304 -- source paths come from the pipeline layout and manifest.
	content, err := os.ReadFile(source)
	if err != nil {
		return schemaattest.SignatureRecord{}, fmt.Errorf("read %s for signing: %w", layout.Rel(source), err)
	}
	value := key.Sum(content)
	if err := writeSidecar(source, value); err != nil {
		return schemaattest.SignatureRecord{}, err
	}
	return schemaattest.SignatureRecord{
		Source:    layout.Rel(source),
		Signature: layout.Rel(pipeline.SidecarPath(source)),
		Value:     value,
	}, nil
}

func writeSidecar(source, value string) error {
	if err := fsx.WriteFileAtomic(pipeline.SidecarPath(source), []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("write signature for %s: %w", source, err)
	}
	return nil
}
