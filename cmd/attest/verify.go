package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/sign"
)

type verifyOutput struct {
	OK             bool           `json:"ok"`
	KeyFingerprint string         `json:"key_fingerprint,omitempty"`
	Checked        int            `json:"checked"`
	Failures       []sign.Failure `json:"failures,omitempty"`
	errorFields
}

func runVerify(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("verify", jsonOutput)
	}
	flagSet := flag.NewFlagSet("verify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	bindCommonFlags(flagSet, &common)

	done, err := parseCommandFlags(flagSet, arguments, commonValueFlags, &common.helpFlag, printVerifyUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writeVerifyOutput(common.jsonOutput, verifyOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{})
	if err != nil {
		return writeVerifyOutput(common.jsonOutput, verifyOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	report := sign.Verify(inv.layout, inv.keySource)
	output := verifyOutput{
		OK:             report.OK(),
		KeyFingerprint: report.KeyFingerprint,
		Checked:        report.Checked,
		Failures:       report.Failures,
	}
	if err := report.Err(); err != nil {
		output.errorFields = errorFieldsFor(err)
		inv.logger.WithField("failures", len(report.Failures)).Warn("verification failed")
		return writeVerifyOutput(common.jsonOutput, output, exitVerifyFailed)
	}
	inv.logger.WithField("checked", report.Checked).Info("verification passed")
	return writeVerifyOutput(common.jsonOutput, output, exitOK)
}

func writeVerifyOutput(jsonOutput bool, output verifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if len(output.Failures) > 0 {
		fmt.Printf("verify: failed checked=%d failures=%d\n", output.Checked, len(output.Failures))
		for _, failure := range output.Failures {
			fmt.Printf("- %s %s: %s\n", failure.Code, failure.Path, failure.Detail)
		}
		return exitCode
	}
	if output.Error != "" {
		fmt.Printf("verify error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("verify: ok checked=%d key=%s\n", output.Checked, output.KeyFingerprint)
	return exitCode
}

func printVerifyUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest verify [--signing-key <path>] [--root <dir>] [--audit-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
