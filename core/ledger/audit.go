package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/davidahmann/attest/core/digest"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
)

type AuditProblem struct {
	Line   int    `json:"line"`
	Code   string `json:"code"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail"`
}

type AuditReport struct {
	Lines    int            `json:"lines"`
	Problems []AuditProblem `json:"problems"`
}

func (report AuditReport) OK() bool {
	return len(report.Problems) == 0
}

// Err names every problem in one verification error, or returns nil.
func (report AuditReport) Err() error {
	if report.OK() {
		return nil
	}
	var buffer bytes.Buffer
	for index, problem := range report.Problems {
		if index > 0 {
			buffer.WriteString("; ")
		}
		fmt.Fprintf(&buffer, "line %d %s %s: %s", problem.Line, problem.Code, problem.Path, problem.Detail)
	}
	return coreerrors.New(
		coreerrors.CategoryVerification,
		coreerrors.CodeVerificationFailed,
		"a published bundle changed or the ledger is malformed",
		"ledger audit found %d problem(s): %s",
		len(report.Problems),
		buffer.String(),
	)
}

// Audit reads every ledger line, validates it, and re-hashes the bundle it records.
// A missing ledger is an empty, clean ledger.
func Audit(layout pipeline.Layout) (AuditReport, error) {
	report := AuditReport{Problems: []AuditProblem{}}
	// #nosec G304 -- ledger path comes from the pipeline layout.
	data, err := os.ReadFile(layout.LedgerPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, nil
		}
		return AuditReport{}, fmt.Errorf("read ledger: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		report.Problems = append(report.Problems, AuditProblem{Code: coreerrors.CodeLedgerWriteFailed, Detail: "ledger does not end with a newline"})
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		report.Lines++
		line := scanner.Bytes()
		entry, err := validate.Decode[schemaattest.LedgerEntry](validate.KindLedgerEntry, line)
		if err != nil {
			report.Problems = append(report.Problems, AuditProblem{Line: report.Lines, Code: coreerrors.CodeSchemaViolation, Detail: err.Error()})
			continue
		}
		checkBundle(layout, report.Lines, entry.Bundle, &report)
	}
	if err := scanner.Err(); err != nil {
		return AuditReport{}, fmt.Errorf("scan ledger: %w", err)
	}
	return report, nil
}

func checkBundle(layout pipeline.Layout, line int, bundle schemaattest.Artifact, report *AuditReport) {
	computed, err := digest.File(layout.Abs(bundle.Path))
	if err != nil {
		report.Problems = append(report.Problems, AuditProblem{Line: line, Code: coreerrors.CodeMissingArtifact, Path: bundle.Path, Detail: "bundle is missing"})
		return
	}
	if !digest.Equal(computed.SHA256, bundle.SHA256) {
		report.Problems = append(report.Problems, AuditProblem{
			Line:   line,
			Code:   coreerrors.CodeDigestMismatch,
			Path:   bundle.Path,
			Detail: fmt.Sprintf("recorded sha256 %s, computed %s", bundle.SHA256, computed.SHA256),
		})
	}
}
