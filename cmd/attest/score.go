package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/davidahmann/attest/core/config"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/score"
	"github.com/davidahmann/attest/core/sign"
)

type scoreOutput struct {
	OK         bool                        `json:"ok"`
	Path       string                      `json:"path,omitempty"`
	TrustScore float64                     `json:"trust_score"`
	Criteria   *schemaattest.TrustCriteria `json:"criteria,omitempty"`
	Failures   []sign.Failure              `json:"failures,omitempty"`
	errorFields
}

func runScore(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("score", jsonOutput)
	}
	flagSet := flag.NewFlagSet("score", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	bindCommonFlags(flagSet, &common)

	done, err := parseCommandFlags(flagSet, arguments, commonValueFlags, &common.helpFlag, printScoreUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writeScoreOutput(common.jsonOutput, scoreOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{})
	if err != nil {
		return writeScoreOutput(common.jsonOutput, scoreOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)
	result, err := score.Evaluate(inv.layout, inv.keySource, timestamp, inv.logger)
	if err != nil {
		return writeScoreOutput(common.jsonOutput, scoreOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	criteria := result.Record.Criteria
	return writeScoreOutput(common.jsonOutput, scoreOutput{
		OK:         true,
		Path:       relativeTo(inv.layout, result.Path),
		TrustScore: result.Record.TrustScore,
		Criteria:   &criteria,
		Failures:   result.Report.Failures,
	}, exitOK)
}

func writeScoreOutput(jsonOutput bool, output scoreOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("score error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("score: trust_score=%.1f path=%s\n", output.TrustScore, output.Path)
	if output.Criteria != nil {
		fmt.Printf("- signatures_valid=%t sboms_present=%t\n", output.Criteria.SignaturesValid, output.Criteria.SBOMsPresent)
	}
	for _, failure := range output.Failures {
		fmt.Printf("- %s %s: %s\n", failure.Code, failure.Path, failure.Detail)
	}
	return exitCode
}

func printScoreUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest score [--signing-key <path>] [--root <dir>] [--audit-dir <dir>] [--metrics-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
