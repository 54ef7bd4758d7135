package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK                = 0
	exitInternalFailure   = 1
	exitVerifyFailed      = 2
	exitInvalidInput      = 6
	exitMissingDependency = 7
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	exitCode := runDispatch(arguments)
	setCurrentCorrelationID("")
	return exitCode
}

func runDispatch(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("attest", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		_, jsonOutput := explainRequested(arguments[1:])
		return writeExplain("attest", jsonOutput)
	}

	switch arguments[1] {
	case "sbom":
		return runSBOM(arguments[2:])
	case "package":
		return runPackage(arguments[2:])
	case "sign":
		return runSign(arguments[2:])
	case "verify":
		return runVerify(arguments[2:])
	case "score":
		return runScore(arguments[2:])
	case "publish":
		return runPublish(arguments[2:])
	case "ledger":
		return runLedger(arguments[2:])
	case "doctor":
		return runDoctor(arguments[2:])
	case "version", "--version", "-v":
		if explain, jsonOutput := explainRequested(arguments[2:]); explain {
			return writeExplain("version", jsonOutput)
		}
		fmt.Println("attest", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest sbom [--graph <graph.json|graph.yaml>] [common flags]")
	fmt.Println("  attest package [--source-date-epoch <seconds>] [common flags]")
	fmt.Println("  attest sign [common flags]")
	fmt.Println("  attest verify [common flags]")
	fmt.Println("  attest score [common flags]")
	fmt.Println("  attest publish [--snapshot <id>] [common flags]")
	fmt.Println("  attest ledger verify [common flags]")
	fmt.Println("  attest doctor [--strict] [common flags]")
	fmt.Println("  attest version")
	fmt.Println()
	fmt.Println("Common flags:")
	fmt.Println("  --root <dir> --audit-dir <dir> --dist-dir <dir> --metrics-dir <dir> --signing-key <path> --config <path> [--json] [--verbose] [--explain]")
}
