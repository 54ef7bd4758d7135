package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/davidahmann/attest/core/archive"
	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/pipeline"
	"github.com/davidahmann/attest/core/sbom"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/score"
	"github.com/davidahmann/attest/core/sign"
	"github.com/davidahmann/attest/internal/testutil"
)

func TestIndependentWorkspacesProduceIdenticalEvidence(t *testing.T) {
	left := runPipeline(t, testutil.WriteSampleWorkspace(t))
	right := runPipeline(t, testutil.WriteSampleWorkspace(t))

	relativePaths := []string{
		"audit/artifacts.manifest.json",
		"audit/artifacts.manifest.json.sig",
		"audit/SBOM.kernel.cdx.json",
		"audit/SBOM.kernel.cdx.json.sig",
		"audit/SBOM.userland.cdx.json",
		"audit/SBOM.userland.cdx.json.sig",
		"audit/signatures.json",
		"audit/signatures.json.sig",
		"dist/tools.tar.gz",
		"metrics/trust_score.json",
	}
	for _, relativePath := range relativePaths {
		leftBytes := testutil.MustReadFile(t, filepath.Join(left.Root, filepath.FromSlash(relativePath)))
		rightBytes := testutil.MustReadFile(t, filepath.Join(right.Root, filepath.FromSlash(relativePath)))
		if !bytes.Equal(leftBytes, rightBytes) {
			t.Fatalf("%s differs between workspaces", relativePath)
		}
	}
}

func TestPipelineScoresOneThenZeroAfterTamper(t *testing.T) {
	workspace := testutil.WriteSampleWorkspace(t)
	layout := runPipeline(t, workspace)
	source := sign.KeySource{EnvName: config.DefaultKeyEnv, Path: workspace.KeyPath}

	recorded, err := score.Read(layout.TrustScorePath())
	if err != nil {
		t.Fatalf("read trust score: %v", err)
	}
	if recorded.TrustScore != 1.0 {
		t.Fatalf("expected trust score 1.0, got %v", recorded.TrustScore)
	}

	testutil.WriteFile(t, workspace.KernelPath, []byte("tampered"))
	result, err := score.Evaluate(layout, source, pipeline.EpochTimestamp(0), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Record.TrustScore != 0.0 || result.Record.Criteria.SignaturesValid {
		t.Fatalf("expected 0.0 with invalid signatures, got %+v", result.Record)
	}
}

func runPipeline(t *testing.T, workspace testutil.Workspace) pipeline.Layout {
	t.Helper()
	file, err := config.Load(workspace.ConfigPath, false)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg, err := config.Resolve(file, config.Overrides{Root: workspace.Root, SourceDateEpoch: "1700000000"})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	layout := pipeline.NewLayout(cfg)

	graph, err := sbom.LoadGraph(context.Background(), sbom.GraphSource{File: cfg.SBOM.GraphFile, Dir: cfg.Root})
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}
	if _, err := sbom.Collect(sbom.Options{
		Graph:          graph,
		Ecosystem:      cfg.SBOM.Ecosystem,
		PrimaryLabel:   cfg.SBOM.PrimaryLabel,
		SecondaryLabel: cfg.SBOM.SecondaryLabel,
		PrimaryRoots:   cfg.SBOM.PrimaryRoots,
		PrimaryPath:    layout.SBOMPath(cfg.SBOM.PrimaryLabel),
		SecondaryPath:  layout.SBOMPath(cfg.SBOM.SecondaryLabel),
		Timestamp:      pipeline.EpochTimestamp(cfg.SourceDateEpoch),
		Tool:           schemaattest.SBOMTool{Name: "attest", Version: "test"},
	}); err != nil {
		t.Fatalf("collect sboms: %v", err)
	}
	if _, err := archive.Package(context.Background(), archive.PackageOptions{
		Layout:    layout,
		Artifacts: cfg.Package.Artifacts,
		Codec:     cfg.Package.Codec,
		Epoch:     cfg.SourceDateEpoch,
		Toolchain: cfg.Toolchain,
	}); err != nil {
		t.Fatalf("package: %v", err)
	}
	source := sign.KeySource{EnvName: cfg.SigningKeyEnv, Path: cfg.SigningKeyPath}
	key, err := sign.LoadKey(source)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if _, err := sign.Sign(layout, key, nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if report := sign.Verify(layout, source); !report.OK() {
		t.Fatalf("verify: %v", report.Err())
	}
	if _, err := score.Evaluate(layout, source, pipeline.EpochTimestamp(cfg.SourceDateEpoch), nil); err != nil {
		t.Fatalf("score: %v", err)
	}
	return layout
}
