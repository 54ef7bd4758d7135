// Package config builds the explicit configuration object every pipeline stage
// receives. It is the only place that reads the project config file; process
// environment values are read by the entry point and passed in as Overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/attest/core/errors"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
)

const (
	DefaultPath           = ".attest/config.yaml"
	DefaultKeyEnv         = "ATTEST_SIGNING_KEY"
	DefaultKeyFileName    = "signing.key"
	DefaultCodec          = "gzip"
	DefaultEcosystem      = "cargo"
	DefaultPrimaryLabel   = "kernel"
	DefaultSecondaryLabel = "userland"
)

// File mirrors .attest/config.yaml.
type File struct {
	Toolchain       ToolchainFile `yaml:"toolchain"`
	SourceDateEpoch *int64        `yaml:"source_date_epoch"`
	Dirs            DirsFile      `yaml:"dirs"`
	Signing         SigningFile   `yaml:"signing"`
	SBOM            SBOMFile      `yaml:"sbom"`
	Package         PackageFile   `yaml:"package"`
}

type ToolchainFile struct {
	Package string `yaml:"package"`
	Version string `yaml:"version"`
}

type DirsFile struct {
	Audit   string `yaml:"audit"`
	Dist    string `yaml:"dist"`
	Metrics string `yaml:"metrics"`
}

type SigningFile struct {
	KeyFile string `yaml:"key_file"`
	KeyEnv  string `yaml:"key_env"`
}

type SBOMFile struct {
	GraphFile      string   `yaml:"graph_file"`
	GraphCommand   []string `yaml:"graph_command"`
	Ecosystem      string   `yaml:"ecosystem"`
	PrimaryLabel   string   `yaml:"primary_label"`
	SecondaryLabel string   `yaml:"secondary_label"`
	PrimaryRoots   []string `yaml:"primary_roots"`
}

type PackageFile struct {
	BuildCommand []string       `yaml:"build_command"`
	Codec        string         `yaml:"codec"`
	Artifacts    []ArtifactSpec `yaml:"artifacts"`
}

// ArtifactSpec declares one manifest artifact: either a raw build output (Path) or a
// deterministic archive assembled from Include/Exclude globs under the root.
type ArtifactSpec struct {
	Name    string   `yaml:"name"`
	Path    string   `yaml:"path"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// IsArchive reports whether the artifact is built from include patterns rather than a single file.
func (spec ArtifactSpec) IsArchive() bool {
	return len(spec.Include) > 0
}

// Overrides carries values from flags and the process environment. Empty fields
// leave the file value (or default) in place.
type Overrides struct {
	Root            string
	AuditDir        string
	DistDir         string
	MetricsDir      string
	SigningKeyPath  string
	GraphFile       string
	SourceDateEpoch string
}

type SBOMConfig struct {
	GraphFile      string
	GraphCommand   []string
	Ecosystem      string
	PrimaryLabel   string
	SecondaryLabel string
	PrimaryRoots   []string
}

type PackageConfig struct {
	BuildCommand []string
	Codec        string
	Artifacts    []ArtifactSpec
}

// Config is resolved once at the entry point and threaded through every stage.
type Config struct {
	Root            string
	AuditDir        string
	DistDir         string
	MetricsDir      string
	SigningKeyPath  string
	SigningKeyEnv   string
	SourceDateEpoch int64
	Toolchain       schemaattest.Toolchain
	SBOM            SBOMConfig
	Package         PackageConfig
}

func Load(path string, allowMissing bool) (File, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return File{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return File{}, nil
		}
		return File{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return File{}, nil
	}

	var configuration File
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return File{}, coreerrors.InvalidConfiguration("parse project config: %v", err)
	}
	configuration.normalize()
	return configuration, nil
}

func (configuration *File) normalize() {
	configuration.Toolchain.Package = strings.TrimSpace(configuration.Toolchain.Package)
	configuration.Toolchain.Version = strings.TrimSpace(configuration.Toolchain.Version)
	configuration.Dirs.Audit = strings.TrimSpace(configuration.Dirs.Audit)
	configuration.Dirs.Dist = strings.TrimSpace(configuration.Dirs.Dist)
	configuration.Dirs.Metrics = strings.TrimSpace(configuration.Dirs.Metrics)
	configuration.Signing.KeyFile = strings.TrimSpace(configuration.Signing.KeyFile)
	configuration.Signing.KeyEnv = strings.TrimSpace(configuration.Signing.KeyEnv)
	configuration.SBOM.GraphFile = strings.TrimSpace(configuration.SBOM.GraphFile)
	configuration.SBOM.GraphCommand = trimAll(configuration.SBOM.GraphCommand)
	configuration.SBOM.Ecosystem = strings.ToLower(strings.TrimSpace(configuration.SBOM.Ecosystem))
	configuration.SBOM.PrimaryLabel = strings.TrimSpace(configuration.SBOM.PrimaryLabel)
	configuration.SBOM.SecondaryLabel = strings.TrimSpace(configuration.SBOM.SecondaryLabel)
	configuration.SBOM.PrimaryRoots = trimAll(configuration.SBOM.PrimaryRoots)
	configuration.Package.BuildCommand = trimAll(configuration.Package.BuildCommand)
	configuration.Package.Codec = strings.ToLower(strings.TrimSpace(configuration.Package.Codec))
	for index := range configuration.Package.Artifacts {
		artifact := &configuration.Package.Artifacts[index]
		artifact.Name = strings.TrimSpace(artifact.Name)
		artifact.Path = strings.TrimSpace(artifact.Path)
		artifact.Include = trimAll(artifact.Include)
		artifact.Exclude = trimAll(artifact.Exclude)
	}
}

// Resolve merges the file with overrides and fills defaults. Relative directories
// from the file are anchored at the root; relative flag values are anchored at the
// current working directory.
func Resolve(file File, overrides Overrides) (Config, error) {
	root := strings.TrimSpace(overrides.Root)
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Config{}, coreerrors.InvalidConfiguration("resolve root: %v", err)
	}

	configuration := Config{
		Root:          absRoot,
		SigningKeyEnv: firstNonEmpty(file.Signing.KeyEnv, DefaultKeyEnv),
		Toolchain: schemaattest.Toolchain{
			Package: file.Toolchain.Package,
			Version: file.Toolchain.Version,
		},
		SBOM: SBOMConfig{
			GraphFile:      file.SBOM.GraphFile,
			GraphCommand:   file.SBOM.GraphCommand,
			Ecosystem:      firstNonEmpty(file.SBOM.Ecosystem, DefaultEcosystem),
			PrimaryLabel:   firstNonEmpty(file.SBOM.PrimaryLabel, DefaultPrimaryLabel),
			SecondaryLabel: firstNonEmpty(file.SBOM.SecondaryLabel, DefaultSecondaryLabel),
			PrimaryRoots:   file.SBOM.PrimaryRoots,
		},
		Package: PackageConfig{
			BuildCommand: file.Package.BuildCommand,
			Codec:        firstNonEmpty(file.Package.Codec, DefaultCodec),
			Artifacts:    file.Package.Artifacts,
		},
	}

	if configuration.AuditDir, err = resolveDir(absRoot, overrides.AuditDir, file.Dirs.Audit, "audit"); err != nil {
		return Config{}, err
	}
	if configuration.DistDir, err = resolveDir(absRoot, overrides.DistDir, file.Dirs.Dist, "dist"); err != nil {
		return Config{}, err
	}
	if configuration.MetricsDir, err = resolveDir(absRoot, overrides.MetricsDir, file.Dirs.Metrics, "metrics"); err != nil {
		return Config{}, err
	}
	keyBase := configuration.AuditDir
	if file.Signing.KeyFile != "" {
		keyBase = absRoot
	}
	keyPath, err := resolveDir(keyBase, overrides.SigningKeyPath, file.Signing.KeyFile, DefaultKeyFileName)
	if err != nil {
		return Config{}, err
	}
	configuration.SigningKeyPath = keyPath
	if graph := strings.TrimSpace(overrides.GraphFile); graph != "" {
		abs, absErr := filepath.Abs(graph)
		if absErr != nil {
			return Config{}, coreerrors.InvalidConfiguration("resolve graph file: %v", absErr)
		}
		configuration.SBOM.GraphFile = abs
	} else if configuration.SBOM.GraphFile != "" && !filepath.IsAbs(configuration.SBOM.GraphFile) {
		configuration.SBOM.GraphFile = filepath.Join(absRoot, configuration.SBOM.GraphFile)
	}

	epoch := int64(0)
	if file.SourceDateEpoch != nil {
		epoch = *file.SourceDateEpoch
	}
	if raw := strings.TrimSpace(overrides.SourceDateEpoch); raw != "" {
		parsed, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return Config{}, coreerrors.InvalidConfiguration("source date epoch %q is not an integer", raw)
		}
		epoch = parsed
	}
	if epoch < 0 {
		return Config{}, coreerrors.InvalidConfiguration("source date epoch must be >= 0, got %d", epoch)
	}
	configuration.SourceDateEpoch = epoch

	if err := validateArtifacts(configuration.Package.Artifacts); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func validateArtifacts(artifacts []ArtifactSpec) error {
	seen := make(map[string]struct{}, len(artifacts))
	for _, artifact := range artifacts {
		if artifact.Name == "" {
			return coreerrors.InvalidConfiguration("package artifact name is required")
		}
		if strings.ContainsAny(artifact.Name, `/\`) {
			return coreerrors.InvalidConfiguration("package artifact name %q must not contain path separators", artifact.Name)
		}
		if _, exists := seen[artifact.Name]; exists {
			return coreerrors.InvalidConfiguration("duplicate package artifact name %q", artifact.Name)
		}
		seen[artifact.Name] = struct{}{}
		hasPath := artifact.Path != ""
		if hasPath == artifact.IsArchive() {
			return coreerrors.InvalidConfiguration("package artifact %q must set exactly one of path or include", artifact.Name)
		}
		if hasPath && len(artifact.Exclude) > 0 {
			return coreerrors.InvalidConfiguration("package artifact %q: exclude only applies to include globs", artifact.Name)
		}
	}
	return nil
}

func resolveDir(base, override, fromFile, fallback string) (string, error) {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return "", coreerrors.InvalidConfiguration("resolve %s: %v", trimmed, err)
		}
		return abs, nil
	}
	value := firstNonEmpty(fromFile, fallback)
	if filepath.IsAbs(value) {
		return filepath.Clean(value), nil
	}
	return filepath.Join(base, value), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
