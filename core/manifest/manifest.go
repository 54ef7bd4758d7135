// Package manifest hashes the packaged artifacts and SBOM files into the single
// record every later stage checks against.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/davidahmann/attest/core/digest"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/fsx"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
)

// Input names one file to record. Path may be absolute or relative to the layout root.
type Input struct {
	Name string
	Path string
}

type ComposeInput struct {
	Layout          pipeline.Layout
	SourceDateEpoch int64
	Toolchain       schemaattest.Toolchain
	Artifacts       []Input
	SBOMs           []Input
}

// Compose hashes every input and returns the manifest with artifacts and SBOMs sorted
// by name.
func Compose(input ComposeInput) (schemaattest.Manifest, error) {
	if input.SourceDateEpoch < 0 {
		return schemaattest.Manifest{}, coreerrors.InvalidConfiguration("source date epoch must be >= 0")
	}
	artifacts, err := hashAll(input.Layout, input.Artifacts, coreerrors.CodeMissingArtifact)
	if err != nil {
		return schemaattest.Manifest{}, err
	}
	sboms, err := hashAll(input.Layout, input.SBOMs, coreerrors.CodeMissingSBOM)
	if err != nil {
		return schemaattest.Manifest{}, err
	}
	return schemaattest.Manifest{
		GeneratedAt:     pipeline.EpochTimestamp(input.SourceDateEpoch),
		SourceDateEpoch: input.SourceDateEpoch,
		Toolchain:       input.Toolchain,
		Artifacts:       artifacts,
		SBOMs:           sboms,
	}, nil
}

func hashAll(layout pipeline.Layout, inputs []Input, missingCode string) ([]schemaattest.Artifact, error) {
	records := make([]schemaattest.Artifact, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return nil, coreerrors.InvalidConfiguration("manifest entry for %s has no name", input.Path)
		}
		if _, ok := seen[name]; ok {
			return nil, coreerrors.InvalidConfiguration("duplicate manifest entry %q", name)
		}
		seen[name] = struct{}{}
		record, err := Hash(layout, name, input.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, coreerrors.Wrap(
					fmt.Errorf("%s: %s does not exist", name, layout.Rel(layout.Abs(input.Path))),
					coreerrors.CategoryPrecondition,
					missingCode,
					"run the stage that produces this file first",
					false,
				)
			}
			return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, missingCode, "", false)
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// Hash digests the file at path and returns it as an Artifact with its recorded path.
func Hash(layout pipeline.Layout, name, path string) (schemaattest.Artifact, error) {
	absolute := layout.Abs(path)
	info, err := os.Stat(absolute)
	if err != nil {
		return schemaattest.Artifact{}, err
	}
	if !info.Mode().IsRegular() {
		return schemaattest.Artifact{}, fmt.Errorf("%s is not a regular file", absolute)
	}
	sum, err := digest.File(absolute)
	if err != nil {
		return schemaattest.Artifact{}, err
	}
	return schemaattest.Artifact{
		Name:   name,
		Path:   layout.Rel(absolute),
		SHA256: sum.SHA256,
		Size:   sum.Size,
	}, nil
}

// Encode serializes with two space indentation and a trailing newline. Struct field
// order fixes key order.
func Encode(manifest schemaattest.Manifest) ([]byte, error) {
	if manifest.Artifacts == nil {
		manifest.Artifacts = []schemaattest.Artifact{}
	}
	if manifest.SBOMs == nil {
		manifest.SBOMs = []schemaattest.Artifact{}
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append(encoded, '\n'), nil
}

// Write stores manifest at path. An existing manifest is only replaced when replace
// is set; the replacement is a new file renamed into place.
func Write(path string, manifest schemaattest.Manifest, replace bool) error {
	if !replace && fsx.Exists(path) {
		return coreerrors.New(
			coreerrors.CategoryStateContention,
			coreerrors.CodeManifestExists,
			"re-run package to produce a new manifest",
			"manifest %s already exists",
			path,
		)
	}
	encoded, err := Encode(manifest)
	if err != nil {
		return err
	}
	if err := validate.JSON(validate.KindManifest, encoded); err != nil {
		return fmt.Errorf("manifest failed validation before write: %w", err)
	}
	if err := fsx.WriteFileAtomic(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Read loads and schema-validates the manifest at path.
func Read(path string) (schemaattest.Manifest, error) {
	return validate.ReadFile[schemaattest.Manifest](validate.KindManifest, path)
}
