package sign

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/davidahmann/attest/core/digest"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/manifest"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
)

// Failure is one discrepancy found during verification. Path is the recorded path of
// the file the failure is about.
type Failure struct {
	Code   string `json:"code"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// Report aggregates every failure found by Verify.
type Report struct {
	KeyFingerprint string    `json:"key_fingerprint,omitempty"`
	Checked        int       `json:"checked"`
	Failures       []Failure `json:"failures"`
}

// OK is the non-raising mode: true when nothing failed.
func (report Report) OK() bool {
	return len(report.Failures) == 0
}

// Err is the raising mode: nil when nothing failed, otherwise one verification error
// naming every failure.
func (report Report) Err() error {
	if report.OK() {
		return nil
	}
	lines := make([]string, 0, len(report.Failures))
	for _, failure := range report.Failures {
		lines = append(lines, fmt.Sprintf("%s %s: %s", failure.Code, failure.Path, failure.Detail))
	}
	return coreerrors.New(
		coreerrors.CategoryVerification,
		coreerrors.CodeVerificationFailed,
		"re-run package and sign from a trusted tree, or investigate the listed files",
		"verification failed with %d failure(s): %s",
		len(report.Failures),
		strings.Join(lines, "; "),
	)
}

type verifier struct {
	layout pipeline.Layout
	key    *Key
	report Report
}

func (v *verifier) fail(code, path, format string, args ...any) {
	v.report.Failures = append(v.report.Failures, Failure{Code: code, Path: path, Detail: fmt.Sprintf(format, args...)})
}

// Verify re-derives every artifact and SBOM digest, recomputes every HMAC, and
// cross-checks the signature set. It never stops at the first problem and never
// returns an error: a missing key is one more failure in the report.
func Verify(layout pipeline.Layout, source KeySource) Report {
	v := &verifier{layout: layout, report: Report{Failures: []Failure{}}}

	key, err := LoadKey(source)
	if err != nil {
		v.fail(coreerrors.CodeOf(err), keyPathLabel(layout, source), "%v", err)
	} else {
		v.key = &key
		v.report.KeyFingerprint = key.Fingerprint()
	}

	manifestPath := layout.ManifestPath()
	recorded, manifestOK := v.readManifest(manifestPath)
	var sources []string
	if manifestOK {
		v.checkDigests(recorded.Artifacts, coreerrors.CodeMissingArtifact, coreerrors.CodeDigestMismatch)
		v.checkDigests(recorded.SBOMs, coreerrors.CodeMissingSBOM, coreerrors.CodeSBOMDigestMismatch)
		v.checkExpectedSBOMs(recorded)
		sources = signedSources(layout, recorded)
	} else {
		sboms := append([]string(nil), layout.SBOMPaths()...)
		sort.Strings(sboms)
		sources = append([]string{manifestPath}, sboms...)
	}

	expected := make(map[string]struct{}, len(sources))
	sidecars := make(map[string]string, len(sources))
	for _, path := range sources {
		expected[layout.Rel(path)] = struct{}{}
		if value, ok := v.checkSignature(path); ok {
			sidecars[layout.Rel(path)] = value
		}
	}
	v.checkSignatureSet(expected, sidecars)

	sort.SliceStable(v.report.Failures, func(i, j int) bool {
		left, right := v.report.Failures[i], v.report.Failures[j]
		if left.Path != right.Path {
			return left.Path < right.Path
		}
		return left.Code < right.Code
	})
	return v.report
}

func (v *verifier) readManifest(path string) (schemaattest.Manifest, bool) {
	relative := v.layout.Rel(path)
	recorded, err := manifest.Read(path)
	if err == nil {
		return recorded, true
	}
	if errors.Is(err, fs.ErrNotExist) {
		v.fail(coreerrors.CodeMissingArtifact, relative, "manifest does not exist")
	} else if coreerrors.CodeOf(err) == coreerrors.CodeSchemaViolation {
		v.fail(coreerrors.CodeSchemaViolation, relative, "%v", err)
	} else {
		v.fail(coreerrors.CodeMissingArtifact, relative, "%v", err)
	}
	return schemaattest.Manifest{}, false
}

func (v *verifier) checkDigests(records []schemaattest.Artifact, missingCode, mismatchCode string) {
	for _, record := range records {
		v.report.Checked++
		computed, err := digest.File(v.layout.Abs(record.Path))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				v.fail(missingCode, record.Path, "%s is recorded in the manifest but does not exist", record.Name)
			} else {
				v.fail(missingCode, record.Path, "%v", err)
			}
			continue
		}
		if !digest.Equal(computed.SHA256, record.SHA256) {
			v.fail(mismatchCode, record.Path, "recorded sha256 %s, computed %s", record.SHA256, computed.SHA256)
			continue
		}
		if computed.Size != record.Size {
			v.fail(mismatchCode, record.Path, "recorded size %d, computed %d", record.Size, computed.Size)
		}
	}
}

func (v *verifier) checkExpectedSBOMs(recorded schemaattest.Manifest) {
	listed := make(map[string]struct{}, len(recorded.SBOMs))
	for _, sbom := range recorded.SBOMs {
		listed[v.layout.Rel(v.layout.Abs(sbom.Path))] = struct{}{}
	}
	for _, path := range v.layout.SBOMPaths() {
		relative := v.layout.Rel(path)
		if _, ok := listed[relative]; !ok {
			v.fail(coreerrors.CodeMissingSBOM, relative, "expected sbom is not recorded in the manifest")
		}
	}
}

// checkSignature compares the sidecar of path with a recomputed HMAC and returns the
// sidecar value when it could be read.
func (v *verifier) checkSignature(path string) (string, bool) {
	v.report.Checked++
	relative := v.layout.Rel(path)
	sidecarPath := pipeline.SidecarPath(path)
	// #nosec G304 -- sidecar paths come from the pipeline layout and manifest.
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		v.fail(coreerrors.CodeMissingSignature, relative, "signature %s is missing", v.layout.Rel(sidecarPath))
		return "", false
	}
	value := strings.TrimSpace(string(raw))
	if err := digest.ValidateHex(value); err != nil {
		v.fail(coreerrors.CodeSignatureMismatch, relative, "signature %s is not a lowercase hex HMAC-SHA256: %v", v.layout.Rel(sidecarPath), err)
		return value, true
	}
	if v.key == nil {
		return value, true
	}
	// #nosec G304 -- source paths come from the pipeline layout and manifest.
	content, err := os.ReadFile(path)
	if err != nil {
		// the missing source itself is reported by the digest or manifest checks
		return value, true
	}
	if !v.key.Matches(content, value) {
		v.fail(coreerrors.CodeSignatureMismatch, relative, "signature %s does not match the file contents", v.layout.Rel(sidecarPath))
	}
	return value, true
}

// checkSignatureSet cross-checks signatures.json against the sidecars read from disk.
// expected holds every source that must be signed, whether or not its sidecar exists.
func (v *verifier) checkSignatureSet(expected map[string]struct{}, sidecars map[string]string) {
	signaturesPath := v.layout.SignaturesPath()
	relative := v.layout.Rel(signaturesPath)
	v.checkSignature(signaturesPath)
	set, err := validate.ReadFile[schemaattest.SignatureSet](validate.KindSignatures, signaturesPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			v.fail(coreerrors.CodeMissingSignature, relative, "signature set does not exist")
		} else {
			v.fail(coreerrors.CodeSchemaViolation, relative, "%v", err)
		}
		return
	}

	if v.key != nil && set.KeyFingerprint != v.key.Fingerprint() {
		v.fail(coreerrors.CodeSignatureMismatch, relative, "signed with key %s, verifying with key %s", set.KeyFingerprint, v.key.Fingerprint())
	}
	records := make(map[string]schemaattest.SignatureRecord, len(set.Signatures))
	for _, record := range set.Signatures {
		records[record.Source] = record
		if _, ok := expected[record.Source]; !ok {
			v.fail(coreerrors.CodeSignatureMismatch, record.Source, "recorded in %s but not a signed source of this manifest", relative)
		}
	}
	present := make([]string, 0, len(sidecars))
	for source := range sidecars {
		present = append(present, source)
	}
	sort.Strings(present)
	for _, source := range present {
		record, ok := records[source]
		if !ok {
			v.fail(coreerrors.CodeMissingSignature, source, "no record in %s", relative)
			continue
		}
		if !strings.EqualFold(record.Value, sidecars[source]) {
			v.fail(coreerrors.CodeSignatureMismatch, source, "record in %s does not match %s", relative, record.Signature)
		}
	}
}

func keyPathLabel(layout pipeline.Layout, source KeySource) string {
	if source.EnvSet && strings.TrimSpace(source.EnvValue) != "" {
		return "$" + source.EnvName
	}
	if strings.TrimSpace(source.Path) == "" {
		return "$" + source.EnvName
	}
	return layout.Rel(source.Path)
}
