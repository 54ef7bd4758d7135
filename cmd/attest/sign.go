package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/sign"
)

type signOutput struct {
	OK             bool     `json:"ok"`
	SignaturesPath string   `json:"signatures_path,omitempty"`
	KeyFingerprint string   `json:"key_fingerprint,omitempty"`
	Signed         []string `json:"signed,omitempty"`
	errorFields
}

func runSign(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("sign", jsonOutput)
	}
	flagSet := flag.NewFlagSet("sign", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	bindCommonFlags(flagSet, &common)

	done, err := parseCommandFlags(flagSet, arguments, commonValueFlags, &common.helpFlag, printSignUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writeSignOutput(common.jsonOutput, signOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{})
	if err != nil {
		return writeSignOutput(common.jsonOutput, signOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	key, err := sign.LoadKey(inv.keySource)
	if err != nil {
		return writeSignOutput(common.jsonOutput, signOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	result, err := sign.Sign(inv.layout, key, inv.logger)
	if err != nil {
		return writeSignOutput(common.jsonOutput, signOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	signed := make([]string, 0, len(result.Signatures))
	for _, record := range result.Signatures {
		signed = append(signed, record.Source)
	}
	return writeSignOutput(common.jsonOutput, signOutput{
		OK:             true,
		SignaturesPath: relativeTo(inv.layout, result.SignaturesPath),
		KeyFingerprint: result.KeyFingerprint,
		Signed:         signed,
	}, exitOK)
}

func writeSignOutput(jsonOutput bool, output signOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("sign error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("sign: signatures=%s key=%s files=%d\n", output.SignaturesPath, output.KeyFingerprint, len(output.Signed))
	for _, source := range output.Signed {
		fmt.Printf("- %s\n", source)
	}
	return exitCode
}

func printSignUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest sign [--signing-key <path>] [--root <dir>] [--audit-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
