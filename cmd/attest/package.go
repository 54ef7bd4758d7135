package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/davidahmann/attest/core/archive"
	"github.com/davidahmann/attest/core/config"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
)

type packageOutput struct {
	OK              bool                    `json:"ok"`
	ManifestPath    string                  `json:"manifest_path,omitempty"`
	SourceDateEpoch int64                   `json:"source_date_epoch,omitempty"`
	Artifacts       []schemaattest.Artifact `json:"artifacts,omitempty"`
	SBOMs           []schemaattest.Artifact `json:"sboms,omitempty"`
	Archives        []archive.Result        `json:"archives,omitempty"`
	errorFields
}

func runPackage(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("package", jsonOutput)
	}
	flagSet := flag.NewFlagSet("package", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	var epoch string
	bindCommonFlags(flagSet, &common)
	flagSet.StringVar(&epoch, "source-date-epoch", "", "archive timestamp in unix seconds (default $SOURCE_DATE_EPOCH, then config, then 0)")

	done, err := parseCommandFlags(flagSet, arguments, valueFlagsWith("source-date-epoch"), &common.helpFlag, printPackageUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writePackageOutput(common.jsonOutput, packageOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{SourceDateEpoch: epoch})
	if err != nil {
		return writePackageOutput(common.jsonOutput, packageOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	cfg := inv.config
	result, err := archive.Package(context.Background(), archive.PackageOptions{
		Layout:       inv.layout,
		Artifacts:    cfg.Package.Artifacts,
		BuildCommand: cfg.Package.BuildCommand,
		Codec:        cfg.Package.Codec,
		Epoch:        cfg.SourceDateEpoch,
		Toolchain:    cfg.Toolchain,
		Logger:       inv.logger,
	})
	if err != nil {
		return writePackageOutput(common.jsonOutput, packageOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writePackageOutput(common.jsonOutput, packageOutput{
		OK:              true,
		ManifestPath:    relativeTo(inv.layout, result.ManifestPath),
		SourceDateEpoch: result.Manifest.SourceDateEpoch,
		Artifacts:       result.Manifest.Artifacts,
		SBOMs:           result.Manifest.SBOMs,
		Archives:        result.Archives,
	}, exitOK)
}

func writePackageOutput(jsonOutput bool, output packageOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("package error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("package: manifest=%s artifacts=%d sboms=%d source_date_epoch=%d\n", output.ManifestPath, len(output.Artifacts), len(output.SBOMs), output.SourceDateEpoch)
	for _, artifact := range output.Artifacts {
		fmt.Printf("- %s %s sha256=%s size=%d\n", artifact.Name, artifact.Path, artifact.SHA256, artifact.Size)
	}
	return exitCode
}

func printPackageUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest package [--source-date-epoch <seconds>] [--root <dir>] [--audit-dir <dir>] [--dist-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
