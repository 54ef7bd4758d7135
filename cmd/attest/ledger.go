package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/ledger"
)

type ledgerVerifyOutput struct {
	OK         bool                  `json:"ok"`
	LedgerPath string                `json:"ledger_path,omitempty"`
	Lines      int                   `json:"lines"`
	Problems   []ledger.AuditProblem `json:"problems,omitempty"`
	errorFields
}

func runLedger(arguments []string) int {
	if len(arguments) == 0 {
		printLedgerUsage()
		return exitInvalidInput
	}
	switch strings.TrimSpace(arguments[0]) {
	case "verify":
		return runLedgerVerify(arguments[1:])
	case "--explain":
		_, jsonOutput := explainRequested(arguments)
		return writeExplain("ledger", jsonOutput)
	case "--help", "-h", "help":
		printLedgerUsage()
		return exitOK
	default:
		printLedgerUsage()
		return exitInvalidInput
	}
}

func runLedgerVerify(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("ledger verify", jsonOutput)
	}
	flagSet := flag.NewFlagSet("ledger-verify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	bindCommonFlags(flagSet, &common)

	done, err := parseCommandFlags(flagSet, arguments, commonValueFlags, &common.helpFlag, printLedgerUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writeLedgerVerifyOutput(common.jsonOutput, ledgerVerifyOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{})
	if err != nil {
		return writeLedgerVerifyOutput(common.jsonOutput, ledgerVerifyOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	report, err := ledger.Audit(inv.layout)
	if err != nil {
		return writeLedgerVerifyOutput(common.jsonOutput, ledgerVerifyOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	output := ledgerVerifyOutput{
		OK:         report.OK(),
		LedgerPath: relativeTo(inv.layout, inv.layout.LedgerPath()),
		Lines:      report.Lines,
		Problems:   report.Problems,
	}
	if err := report.Err(); err != nil {
		output.errorFields = errorFieldsFor(err)
		return writeLedgerVerifyOutput(common.jsonOutput, output, exitVerifyFailed)
	}
	return writeLedgerVerifyOutput(common.jsonOutput, output, exitOK)
}

func writeLedgerVerifyOutput(jsonOutput bool, output ledgerVerifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if len(output.Problems) > 0 {
		fmt.Printf("ledger verify: failed lines=%d problems=%d\n", output.Lines, len(output.Problems))
		for _, problem := range output.Problems {
			fmt.Printf("- line %d %s %s: %s\n", problem.Line, problem.Code, problem.Path, problem.Detail)
		}
		return exitCode
	}
	if output.Error != "" {
		fmt.Printf("ledger verify error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("ledger verify: ok lines=%d ledger=%s\n", output.Lines, output.LedgerPath)
	return exitCode
}

func printLedgerUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest ledger verify [--root <dir>] [--audit-dir <dir>] [--config <path>] [--json] [--verbose] [--explain]")
}
