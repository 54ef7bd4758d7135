// Package attesttest builds sample workspaces that have run the pipeline up to a
// given stage, for tests of later stages.
package attesttest

import (
	"path/filepath"
	"testing"

	"github.com/davidahmann/attest/core/manifest"
	"github.com/davidahmann/attest/core/pipeline"
	"github.com/davidahmann/attest/core/sbom"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/sign"
	"github.com/davidahmann/attest/internal/testutil"
)

type Fixture struct {
	Workspace testutil.Workspace
	Layout    pipeline.Layout
	KeySource sign.KeySource
}

// Layout returns the default layout under root.
func Layout(root string) pipeline.Layout {
	return pipeline.Layout{
		Root:           root,
		AuditDir:       filepath.Join(root, "audit"),
		DistDir:        filepath.Join(root, "dist"),
		MetricsDir:     filepath.Join(root, "metrics"),
		PrimaryLabel:   "kernel",
		SecondaryLabel: "userland",
	}
}

// Packaged returns a sample workspace with both SBOMs and a manifest recording the
// raw kernel artifact.
func Packaged(t *testing.T) Fixture {
	t.Helper()
	workspace := testutil.WriteSampleWorkspace(t)
	layout := Layout(workspace.Root)
	graph, err := sbom.ParseGraph([]byte(testutil.SampleGraphJSON))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	if _, err := sbom.Collect(sbom.Options{
		Graph:          graph,
		Ecosystem:      "cargo",
		PrimaryLabel:   layout.PrimaryLabel,
		SecondaryLabel: layout.SecondaryLabel,
		PrimaryRoots:   []string{"kernel"},
		PrimaryPath:    layout.SBOMPath(layout.PrimaryLabel),
		SecondaryPath:  layout.SBOMPath(layout.SecondaryLabel),
		Timestamp:      pipeline.EpochTimestamp(0),
		Tool:           schemaattest.SBOMTool{Name: "attest", Version: "test"},
	}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	composeManifest(t, layout)
	return Fixture{
		Workspace: workspace,
		Layout:    layout,
		KeySource: sign.KeySource{EnvName: "ATTEST_SIGNING_KEY", Path: workspace.KeyPath},
	}
}

func composeManifest(t *testing.T, layout pipeline.Layout) {
	t.Helper()
	sboms := make([]manifest.Input, 0, 2)
	for _, path := range layout.SBOMPaths() {
		sboms = append(sboms, manifest.Input{Name: filepath.Base(path), Path: path})
	}
	composed, err := manifest.Compose(manifest.ComposeInput{
		Layout:    layout,
		Toolchain: schemaattest.Toolchain{Package: "kernel", Version: "0.1.0"},
		Artifacts: []manifest.Input{{Name: "kernel", Path: "target/release/kernel"}},
		SBOMs:     sboms,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if err := manifest.Write(layout.ManifestPath(), composed, true); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

// Reseal recomposes the manifest from the current tree and signs it again, as a
// rebuild followed by package and sign would.
func Reseal(t *testing.T, fixture Fixture) {
	t.Helper()
	composeManifest(t, fixture.Layout)
	signChain(t, fixture)
}

// Signed returns a packaged workspace whose signature chain has been written.
func Signed(t *testing.T) Fixture {
	t.Helper()
	fixture := Packaged(t)
	signChain(t, fixture)
	return fixture
}

func signChain(t *testing.T, fixture Fixture) {
	t.Helper()
	key, err := sign.LoadKey(fixture.KeySource)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if _, err := sign.Sign(fixture.Layout, key, nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
}
