package attest

const (
	ManifestFileName    = "artifacts.manifest.json"
	SignaturesFileName  = "signatures.json"
	TrustScoreFileName  = "trust_score.json"
	LedgerFileName      = "ledger.jsonl"
	SignatureFileSuffix = ".sig"

	BOMFormatCycloneDX   = "CycloneDX"
	SBOMSpecVersion      = "1.5"
	AlgorithmHMACSHA256  = "HMAC-SHA256"
	ComponentLibrary     = "library"
	ComponentApplication = "application"
)

// Artifact is a file recorded by digest. Paths are slash separated and relative to
// the source root unless the file lives outside it.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

type Toolchain struct {
	Package string `json:"package"`
	Version string `json:"version"`
}

type Manifest struct {
	GeneratedAt     string     `json:"generated_at"`
	SourceDateEpoch int64      `json:"source_date_epoch"`
	Toolchain       Toolchain  `json:"toolchain"`
	Artifacts       []Artifact `json:"artifacts"`
	SBOMs           []Artifact `json:"sboms"`
}

type SBOMComponent struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version"`
	PURL    string `json:"purl"`
}

type SBOMTool struct {
	Vendor  string `json:"vendor,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type SBOMMetadata struct {
	Timestamp string         `json:"timestamp"`
	Tools     []SBOMTool     `json:"tools"`
	Component *SBOMComponent `json:"component,omitempty"`
}

type SBOM struct {
	BOMFormat   string          `json:"bomFormat"`
	SpecVersion string          `json:"specVersion"`
	Version     int             `json:"version"`
	Metadata    SBOMMetadata    `json:"metadata"`
	Components  []SBOMComponent `json:"components"`
}

type SignatureRecord struct {
	Source    string `json:"source"`
	Signature string `json:"signature"`
	Value     string `json:"value"`
}

type SignatureSet struct {
	GeneratedAt    string            `json:"generated_at"`
	Algorithm      string            `json:"algorithm"`
	KeyFingerprint string            `json:"key_fingerprint"`
	Signatures     []SignatureRecord `json:"signatures"`
}

type TrustCriteria struct {
	SignaturesValid bool `json:"signatures_valid"`
	SBOMsPresent    bool `json:"sboms_present"`
}

type TrustScoreRecord struct {
	TrustScore float64       `json:"trust_score"`
	Timestamp  string        `json:"timestamp"`
	Criteria   TrustCriteria `json:"criteria"`
}

type LedgerEntry struct {
	Timestamp  string     `json:"timestamp"`
	SnapshotID string     `json:"snapshot_id"`
	Bundle     Artifact   `json:"bundle"`
	Artifacts  []Artifact `json:"artifacts"`
	SBOMs      []Artifact `json:"sboms"`
	TrustScore float64    `json:"trust_score"`
}
