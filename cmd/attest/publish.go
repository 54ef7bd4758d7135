package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/ledger"
)

type publishOutput struct {
	OK         bool    `json:"ok"`
	LedgerPath string  `json:"ledger_path,omitempty"`
	BundlePath string  `json:"bundle_path,omitempty"`
	BundleSHA  string  `json:"bundle_sha256,omitempty"`
	SnapshotID string  `json:"snapshot_id,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
	TrustScore float64 `json:"trust_score"`
	errorFields
}

func runPublish(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("publish", jsonOutput)
	}
	flagSet := flag.NewFlagSet("publish", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	var snapshot string
	bindCommonFlags(flagSet, &common)
	flagSet.StringVar(&snapshot, "snapshot", "", "snapshot id to record (default git HEAD of --root, else unversioned)")

	done, err := parseCommandFlags(flagSet, arguments, valueFlagsWith("snapshot"), &common.helpFlag, printPublishUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writePublishOutput(common.jsonOutput, publishOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{})
	if err != nil {
		return writePublishOutput(common.jsonOutput, publishOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	result, err := ledger.Publish(ledger.PublishOptions{
		Layout:     inv.layout,
		KeySource:  inv.keySource,
		SnapshotID: ledger.ResolveSnapshot(context.Background(), inv.config.Root, snapshot),
		Now:        time.Now,
		Logger:     inv.logger,
	})
	if err != nil {
		return writePublishOutput(common.jsonOutput, publishOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writePublishOutput(common.jsonOutput, publishOutput{
		OK:         true,
		LedgerPath: relativeTo(inv.layout, result.LedgerPath),
		BundlePath: result.Entry.Bundle.Path,
		BundleSHA:  result.Entry.Bundle.SHA256,
		SnapshotID: result.Entry.SnapshotID,
		Timestamp:  result.Entry.Timestamp,
		TrustScore: result.Entry.TrustScore,
	}, exitOK)
}

func writePublishOutput(jsonOutput bool, output publishOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("publish error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("publish: snapshot=%s bundle=%s trust_score=%.1f ledger=%s\n", output.SnapshotID, output.BundlePath, output.TrustScore, output.LedgerPath)
	return exitCode
}

func printPublishUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest publish [--snapshot <id>] [--signing-key <path>] [--root <dir>] [--audit-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
