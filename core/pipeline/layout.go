// Package pipeline names every file a stage reads or writes and turns "which files
// exist" into an explicit set of completed stages with preconditions.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/davidahmann/attest/core/config"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
)

// Layout resolves the on-disk location of every pipeline record.
type Layout struct {
	Root           string
	AuditDir       string
	DistDir        string
	MetricsDir     string
	PrimaryLabel   string
	SecondaryLabel string
}

func NewLayout(configuration config.Config) Layout {
	return Layout{
		Root:           configuration.Root,
		AuditDir:       configuration.AuditDir,
		DistDir:        configuration.DistDir,
		MetricsDir:     configuration.MetricsDir,
		PrimaryLabel:   configuration.SBOM.PrimaryLabel,
		SecondaryLabel: configuration.SBOM.SecondaryLabel,
	}
}

func (layout Layout) SBOMPath(label string) string {
	return filepath.Join(layout.AuditDir, SBOMFileName(label))
}

// SBOMPaths returns the primary then the secondary SBOM path.
func (layout Layout) SBOMPaths() []string {
	return []string{layout.SBOMPath(layout.PrimaryLabel), layout.SBOMPath(layout.SecondaryLabel)}
}

func (layout Layout) ManifestPath() string {
	return filepath.Join(layout.AuditDir, schemaattest.ManifestFileName)
}

func (layout Layout) SignaturesPath() string {
	return filepath.Join(layout.AuditDir, schemaattest.SignaturesFileName)
}

func (layout Layout) TrustScorePath() string {
	return filepath.Join(layout.MetricsDir, schemaattest.TrustScoreFileName)
}

func (layout Layout) LedgerPath() string {
	return filepath.Join(layout.AuditDir, schemaattest.LedgerFileName)
}

func (layout Layout) BundlesDir() string {
	return filepath.Join(layout.AuditDir, "bundles")
}

// ArchivePath is where the packager writes the archive artifact called name.
func (layout Layout) ArchivePath(name, extension string) string {
	return filepath.Join(layout.DistDir, name+extension)
}

// Rel converts an absolute path into the form recorded on disk: slash separated and
// relative to the root when the file lives under it, absolute otherwise.
func (layout Layout) Rel(path string) string {
	absolute := path
	if !filepath.IsAbs(absolute) {
		absolute = filepath.Join(layout.Root, absolute)
	}
	relative, err := filepath.Rel(layout.Root, absolute)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(filepath.Clean(absolute))
	}
	return filepath.ToSlash(relative)
}

// Abs resolves a recorded path against the root.
func (layout Layout) Abs(recorded string) string {
	native := filepath.FromSlash(recorded)
	if filepath.IsAbs(native) {
		return filepath.Clean(native)
	}
	return filepath.Join(layout.Root, native)
}

func SBOMFileName(label string) string {
	return "SBOM." + label + ".cdx.json"
}

func SidecarPath(path string) string {
	return path + schemaattest.SignatureFileSuffix
}

// EpochTimestamp formats a source date epoch the way every record stores time.
func EpochTimestamp(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}
