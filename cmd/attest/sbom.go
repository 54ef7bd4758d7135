package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/pipeline"
	"github.com/davidahmann/attest/core/sbom"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
)

type sbomOutput struct {
	OK        bool         `json:"ok"`
	Primary   *sbom.Output `json:"primary,omitempty"`
	Secondary *sbom.Output `json:"secondary,omitempty"`
	errorFields
}

func runSBOM(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("sbom", jsonOutput)
	}
	flagSet := flag.NewFlagSet("sbom", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	var graphPath string
	bindCommonFlags(flagSet, &common)
	flagSet.StringVar(&graphPath, "graph", "", "dependency graph file (JSON or YAML); default runs the configured graph command")

	done, err := parseCommandFlags(flagSet, arguments, valueFlagsWith("graph"), &common.helpFlag, printSBOMUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writeSBOMOutput(common.jsonOutput, sbomOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{GraphFile: graphPath})
	if err != nil {
		return writeSBOMOutput(common.jsonOutput, sbomOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	cfg := inv.config
	graph, err := sbom.LoadGraph(context.Background(), sbom.GraphSource{
		File:    cfg.SBOM.GraphFile,
		Command: cfg.SBOM.GraphCommand,
		Dir:     cfg.Root,
	})
	if err != nil {
		return writeSBOMOutput(common.jsonOutput, sbomOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitMissingDependency))
	}
	result, err := sbom.Collect(sbom.Options{
		Graph:          graph,
		Ecosystem:      cfg.SBOM.Ecosystem,
		PrimaryLabel:   cfg.SBOM.PrimaryLabel,
		SecondaryLabel: cfg.SBOM.SecondaryLabel,
		PrimaryRoots:   cfg.SBOM.PrimaryRoots,
		PrimaryPath:    inv.layout.SBOMPath(cfg.SBOM.PrimaryLabel),
		SecondaryPath:  inv.layout.SBOMPath(cfg.SBOM.SecondaryLabel),
		Timestamp:      pipeline.EpochTimestamp(cfg.SourceDateEpoch),
		Tool:           schemaattest.SBOMTool{Name: "attest", Version: version},
		Logger:         inv.logger,
	})
	if err != nil {
		return writeSBOMOutput(common.jsonOutput, sbomOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	result.Primary.Path = relativeTo(inv.layout, result.Primary.Path)
	result.Secondary.Path = relativeTo(inv.layout, result.Secondary.Path)
	return writeSBOMOutput(common.jsonOutput, sbomOutput{OK: true, Primary: &result.Primary, Secondary: &result.Secondary}, exitOK)
}

func writeSBOMOutput(jsonOutput bool, output sbomOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("sbom error: %s\n", output.Error)
		return exitCode
	}
	for _, written := range []*sbom.Output{output.Primary, output.Secondary} {
		if written == nil {
			continue
		}
		fmt.Printf("sbom %s: %s components=%d\n", written.Label, written.Path, written.Components)
	}
	return exitCode
}

func printSBOMUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest sbom [--graph <graph.json|graph.yaml>] [--root <dir>] [--audit-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
