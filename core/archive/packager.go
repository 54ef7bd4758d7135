package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/davidahmann/attest/core/config"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/execx"
	"github.com/davidahmann/attest/core/logging"
	"github.com/davidahmann/attest/core/manifest"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
)

type PackageOptions struct {
	Layout       pipeline.Layout
	Artifacts    []config.ArtifactSpec
	BuildCommand []string
	Codec        string
	Epoch        int64
	Toolchain    schemaattest.Toolchain
	Logger       logrus.FieldLogger
}

type PackageResult struct {
	ManifestPath string                `json:"manifest_path"`
	Manifest     schemaattest.Manifest `json:"manifest"`
	Archives     []Result              `json:"archives"`
}

// Package runs the build command, writes one archive per archive artifact, and
// records every artifact and both SBOMs in a new manifest. The codec is checked
// before the build runs.
func Package(ctx context.Context, opts PackageOptions) (PackageResult, error) {
	logger := logging.OrDiscard(opts.Logger)
	extension, err := Extension(opts.Codec)
	if err != nil {
		return PackageResult{}, err
	}
	if err := pipeline.Inspect(opts.Layout).Require(pipeline.StagePackage); err != nil {
		return PackageResult{}, err
	}
	if len(opts.Artifacts) == 0 {
		return PackageResult{}, coreerrors.InvalidConfiguration("no package artifacts configured")
	}

	if len(opts.BuildCommand) > 0 {
		if err := runBuild(ctx, opts, logger); err != nil {
			return PackageResult{}, err
		}
	}

	layout := opts.Layout
	skipDirs := []string{layout.AuditDir, layout.DistDir, layout.MetricsDir, filepath.Join(layout.Root, ".git")}
	inputs := make([]manifest.Input, 0, len(opts.Artifacts))
	archives := make([]Result, 0)
	for _, spec := range opts.Artifacts {
		if !spec.IsArchive() {
			inputs = append(inputs, manifest.Input{Name: spec.Name, Path: spec.Path})
			continue
		}
		outputPath := layout.ArchivePath(spec.Name, extension)
		result, err := Create(Options{
			Root:     layout.Root,
			Include:  spec.Include,
			Exclude:  spec.Exclude,
			SkipDirs: skipDirs,
			Epoch:    opts.Epoch,
			Codec:    opts.Codec,
		}, outputPath)
		if err != nil {
			return PackageResult{}, fmt.Errorf("archive %s: %w", spec.Name, err)
		}
		logger.WithFields(logrus.Fields{"artifact": spec.Name, "entries": len(result.Entries)}).Debug("archive written")
		result.Path = layout.Rel(result.Path)
		archives = append(archives, result)
		inputs = append(inputs, manifest.Input{Name: spec.Name, Path: outputPath})
	}

	sboms := make([]manifest.Input, 0, 2)
	for _, path := range layout.SBOMPaths() {
		sboms = append(sboms, manifest.Input{Name: filepath.Base(path), Path: path})
	}
	composed, err := manifest.Compose(manifest.ComposeInput{
		Layout:          layout,
		SourceDateEpoch: opts.Epoch,
		Toolchain:       opts.Toolchain,
		Artifacts:       inputs,
		SBOMs:           sboms,
	})
	if err != nil {
		return PackageResult{}, err
	}
	if err := manifest.Write(layout.ManifestPath(), composed, true); err != nil {
		return PackageResult{}, err
	}
	logger.WithFields(logrus.Fields{
		"manifest":  layout.Rel(layout.ManifestPath()),
		"artifacts": len(composed.Artifacts),
	}).Info("manifest written")
	return PackageResult{ManifestPath: layout.ManifestPath(), Manifest: composed, Archives: archives}, nil
}

func runBuild(ctx context.Context, opts PackageOptions, logger logrus.FieldLogger) error {
	logger.WithField("command", opts.BuildCommand).Info("running build")
	result, err := execx.Run(ctx, execx.Command{
		Argv: opts.BuildCommand,
		Dir:  opts.Layout.Root,
		Env:  []string{"SOURCE_DATE_EPOCH=" + strconv.FormatInt(opts.Epoch, 10)},
	})
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryDependencyMissing, coreerrors.CodeBuildFailed, "check package.build_command", false)
	}
	if result.ExitCode != 0 {
		return coreerrors.New(
			coreerrors.CategoryInternalFailure,
			coreerrors.CodeBuildFailed,
			"fix the build before packaging",
			"build command exited with status %d: %s",
			result.ExitCode,
			result.Stderr,
		)
	}
	return nil
}
