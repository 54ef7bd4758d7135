// Package score reduces verification and completeness checks to a trust score and
// persists the criteria that produced it.
package score

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/davidahmann/attest/core/fsx"
	"github.com/davidahmann/attest/core/logging"
	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
	"github.com/davidahmann/attest/core/sign"
)

// Compute is 1.0 when every criterion holds and 0.0 otherwise.
func Compute(criteria schemaattest.TrustCriteria) float64 {
	if criteria.SignaturesValid && criteria.SBOMsPresent {
		return 1.0
	}
	return 0.0
}

type Result struct {
	Path   string                        `json:"path"`
	Record schemaattest.TrustScoreRecord `json:"record"`
	Report sign.Report                   `json:"report"`
}

// Criteria runs verification in its non-raising mode and checks that every expected
// SBOM file exists.
func Criteria(layout pipeline.Layout, source sign.KeySource) (schemaattest.TrustCriteria, sign.Report) {
	report := sign.Verify(layout, source)
	return CriteriaFor(layout, report), report
}

// CriteriaFor derives the criteria from a verification report already in hand.
func CriteriaFor(layout pipeline.Layout, report sign.Report) schemaattest.TrustCriteria {
	present := true
	for _, path := range layout.SBOMPaths() {
		if !fsx.Exists(path) {
			present = false
		}
	}
	return schemaattest.TrustCriteria{SignaturesValid: report.OK(), SBOMsPresent: present}
}

// Evaluate computes the score and writes the trust score record. A failed
// verification is a 0.0 score, not an error.
func Evaluate(layout pipeline.Layout, source sign.KeySource, timestamp string, logger logrus.FieldLogger) (Result, error) {
	log := logging.OrDiscard(logger)
	criteria, report := Criteria(layout, source)
	record := schemaattest.TrustScoreRecord{
		TrustScore: Compute(criteria),
		Timestamp:  timestamp,
		Criteria:   criteria,
	}
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshal trust score: %w", err)
	}
	encoded = append(encoded, '\n')
	if err := validate.JSON(validate.KindTrustScore, encoded); err != nil {
		return Result{}, fmt.Errorf("trust score failed validation before write: %w", err)
	}
	path := layout.TrustScorePath()
	if err := fsx.WriteFileAtomic(path, encoded, 0o644); err != nil {
		return Result{}, fmt.Errorf("write trust score: %w", err)
	}

	entry := log.WithFields(logrus.Fields{
		"trust_score":      record.TrustScore,
		"signatures_valid": criteria.SignaturesValid,
		"sboms_present":    criteria.SBOMsPresent,
	})
	if record.TrustScore < 1 {
		entry.WithField("failures", len(report.Failures)).Warn("trust score below 1.0")
	} else {
		entry.Info("trust score written")
	}
	return Result{Path: path, Record: record, Report: report}, nil
}

// Read loads a persisted trust score record.
func Read(path string) (schemaattest.TrustScoreRecord, error) {
	return validate.ReadFile[schemaattest.TrustScoreRecord](validate.KindTrustScore, path)
}
