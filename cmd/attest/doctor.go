package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/doctor"
)

type doctorOutput struct {
	OK              bool           `json:"ok"`
	SchemaID        string         `json:"schema_id,omitempty"`
	SchemaVersion   string         `json:"schema_version,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	ProducerVersion string         `json:"producer_version,omitempty"`
	Status          string         `json:"status,omitempty"`
	NonFixable      bool           `json:"non_fixable,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	CompletedStages []string       `json:"completed_stages,omitempty"`
	FixCommands     []string       `json:"fix_commands,omitempty"`
	Checks          []doctor.Check `json:"checks,omitempty"`
	errorFields
}

func runDoctor(arguments []string) int {
	if explain, jsonOutput := explainRequested(arguments); explain {
		return writeExplain("doctor", jsonOutput)
	}
	flagSet := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	var strict bool
	bindCommonFlags(flagSet, &common)
	flagSet.BoolVar(&strict, "strict", false, "exit non-zero when any check fails")

	done, err := parseCommandFlags(flagSet, arguments, commonValueFlags, &common.helpFlag, printDoctorUsage)
	if done {
		return exitOK
	}
	if err != nil {
		return writeDoctorOutput(common.jsonOutput, doctorOutput{errorFields: errorFieldsFor(err)}, exitInvalidInput)
	}

	inv, err := common.resolve(config.Overrides{})
	if err != nil {
		return writeDoctorOutput(common.jsonOutput, doctorOutput{errorFields: errorFieldsFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	result := doctor.Run(doctor.Options{
		Config:          inv.config,
		KeySource:       inv.keySource,
		ProducerVersion: version,
	})

	exitCode := exitOK
	ok := !result.NonFixable
	if result.NonFixable {
		exitCode = exitMissingDependency
	}
	if strict && result.Status == "fail" {
		exitCode = exitVerifyFailed
		ok = false
	}
	return writeDoctorOutput(common.jsonOutput, doctorOutput{
		OK:              ok,
		SchemaID:        result.SchemaID,
		SchemaVersion:   result.SchemaVersion,
		CreatedAt:       result.CreatedAt,
		ProducerVersion: result.ProducerVersion,
		Status:          result.Status,
		NonFixable:      result.NonFixable,
		Summary:         result.Summary,
		CompletedStages: result.Stages,
		FixCommands:     result.FixCommands,
		Checks:          result.Checks,
	}, exitCode)
}

func writeDoctorOutput(jsonOutput bool, output doctorOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("doctor error: %s\n", output.Error)
		return exitCode
	}
	fmt.Println(output.Summary)
	for _, check := range output.Checks {
		fmt.Printf("- %s: %s (%s)\n", check.Name, check.Status, check.Message)
		if check.FixCommand != "" {
			fmt.Printf("  fix: %s\n", check.FixCommand)
		}
	}
	return exitCode
}

func printDoctorUsage() {
	fmt.Println("Usage:")
	fmt.Println("  attest doctor [--strict] [--root <dir>] [--audit-dir <dir>] [--dist-dir <dir>] [--metrics-dir <dir>] [--signing-key <path>] [--config <path>] [--json] [--explain]")
}
