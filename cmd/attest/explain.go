package main

import (
	"fmt"
	"strings"
)

var commandExplanations = map[string]string{
	"attest":        "Attest builds SBOMs, deterministic archives and an HMAC-signed manifest for a source tree, scores the result, and appends verified evidence to an append-only ledger.",
	"sbom":          "Resolve the dependency graph and write the primary SBOM for the primary roots' closure and the secondary SBOM for every other workspace member.",
	"package":       "Run the configured build with SOURCE_DATE_EPOCH set, write byte-reproducible archives, and record every artifact and SBOM digest in the manifest.",
	"sign":          "HMAC-SHA256 sign the manifest and both SBOMs, write the signature set, and sign the signature set itself.",
	"verify":        "Re-hash every recorded artifact and SBOM, check every signature sidecar and the signature set, and report every failure found.",
	"score":         "Compute the trust score (1.0 only when signatures verify and both SBOMs exist) and write it with its criteria. A failed verification scores 0.0 and still exits 0.",
	"publish":       "Verify the signature chain, then write a content-addressed evidence bundle and append one ledger entry. Nothing is written when verification fails.",
	"ledger":        "Inspect the append-only ledger.",
	"ledger verify": "Validate every ledger line and re-hash the bundle it records. Exits non-zero when a line is malformed or a published bundle changed.",
	"doctor":        "Diagnose the workspace, graph source, archive codec, signing key, ledger and last trust score, and return stable fix suggestions.",
	"version":       "Print the CLI version.",
}

type explainOutput struct {
	OK      bool   `json:"ok"`
	Command string `json:"command"`
	Explain string `json:"explain"`
}

// explainRequested scans arguments up to a "--" terminator for --explain and --json.
func explainRequested(arguments []string) (explain bool, jsonOutput bool) {
	for _, argument := range arguments {
		switch strings.TrimSpace(argument) {
		case "--":
			return explain, jsonOutput
		case "--explain", "-explain":
			explain = true
		case "--json", "-json", "--json=true", "-json=true":
			jsonOutput = true
		}
	}
	return explain, jsonOutput
}

func writeExplain(command string, jsonOutput bool) int {
	text, ok := commandExplanations[command]
	if !ok {
		text = commandExplanations["attest"]
	}
	if jsonOutput {
		return writeJSONOutput(explainOutput{OK: true, Command: command, Explain: text}, exitOK)
	}
	fmt.Println(text)
	return exitOK
}
