package score

import (
	"os"
	"testing"

	"github.com/davidahmann/attest/core/pipeline"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/sign"
	"github.com/davidahmann/attest/internal/attesttest"
)

func TestComputeLaw(t *testing.T) {
	testCases := []struct {
		criteria schemaattest.TrustCriteria
		want     float64
	}{
		{criteria: schemaattest.TrustCriteria{SignaturesValid: true, SBOMsPresent: true}, want: 1.0},
		{criteria: schemaattest.TrustCriteria{SignaturesValid: true, SBOMsPresent: false}, want: 0.0},
		{criteria: schemaattest.TrustCriteria{SignaturesValid: false, SBOMsPresent: true}, want: 0.0},
		{criteria: schemaattest.TrustCriteria{}, want: 0.0},
	}
	for _, testCase := range testCases {
		if got := Compute(testCase.criteria); got != testCase.want {
			t.Fatalf("Compute(%+v) = %v, want %v", testCase.criteria, got, testCase.want)
		}
	}
}

func TestEvaluateSignedTreeScoresOne(t *testing.T) {
	fixture := attesttest.Signed(t)
	result, err := Evaluate(fixture.Layout, fixture.KeySource, pipeline.EpochTimestamp(0), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Record.TrustScore != 1.0 || !result.Record.Criteria.SignaturesValid || !result.Record.Criteria.SBOMsPresent {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
	persisted, err := Read(fixture.Layout.TrustScorePath())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if persisted != result.Record {
		t.Fatalf("persisted record differs: %+v", persisted)
	}
}

func TestEvaluateTamperedTreeScoresZero(t *testing.T) {
	fixture := attesttest.Signed(t)
	if err := os.WriteFile(fixture.Workspace.KernelPath, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	result, err := Evaluate(fixture.Layout, fixture.KeySource, pipeline.EpochTimestamp(0), nil)
	if err != nil {
		t.Fatalf("a failed verification must not be an error: %v", err)
	}
	if result.Record.TrustScore != 0.0 || result.Record.Criteria.SignaturesValid || !result.Record.Criteria.SBOMsPresent {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
	if result.Report.OK() {
		t.Fatal("expected failing report")
	}
}

func TestEvaluateMissingSBOMScoresZero(t *testing.T) {
	fixture := attesttest.Signed(t)
	if err := os.Remove(fixture.Layout.SBOMPath("userland")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	result, err := Evaluate(fixture.Layout, fixture.KeySource, pipeline.EpochTimestamp(0), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Record.TrustScore != 0.0 || result.Record.Criteria.SBOMsPresent {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
}

func TestEvaluateWithoutKeyScoresZero(t *testing.T) {
	fixture := attesttest.Signed(t)
	result, err := Evaluate(fixture.Layout, sign.KeySource{EnvName: "ATTEST_SIGNING_KEY"}, pipeline.EpochTimestamp(0), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Record.TrustScore != 0.0 || result.Record.Criteria.SignaturesValid {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
}
