package pipeline

import (
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/fsx"
)

type Stage int

const (
	StageSBOM Stage = iota
	StagePackage
	StageSign
	StageScore
	StagePublish
)

var stageNames = map[Stage]string{
	StageSBOM:    "sbom",
	StagePackage: "package",
	StageSign:    "sign",
	StageScore:   "score",
	StagePublish: "publish",
}

func (stage Stage) String() string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return "unknown"
}

// requirements lists the stages whose outputs a stage reads. Verify and score have
// none: they report missing outputs instead of refusing to run.
var requirements = map[Stage][]Stage{
	StagePackage: {StageSBOM},
	StageSign:    {StageSBOM, StagePackage},
	StagePublish: {StageSign},
}

// State is the set of stages whose outputs are present on disk.
type State struct {
	Completed map[Stage]bool
	missing   map[Stage][]string
}

// Inspect derives the pipeline state from the files under layout.
func Inspect(layout Layout) State {
	outputs := map[Stage][]string{
		StageSBOM:    layout.SBOMPaths(),
		StagePackage: {layout.ManifestPath()},
		StageSign: {
			SidecarPath(layout.ManifestPath()),
			layout.SignaturesPath(),
			SidecarPath(layout.SignaturesPath()),
		},
		StageScore:   {layout.TrustScorePath()},
		StagePublish: {layout.LedgerPath()},
	}
	state := State{Completed: map[Stage]bool{}, missing: map[Stage][]string{}}
	for stage, paths := range outputs {
		var missing []string
		for _, path := range paths {
			if !fsx.Exists(path) {
				missing = append(missing, layout.Rel(path))
			}
		}
		state.Completed[stage] = len(missing) == 0
		state.missing[stage] = missing
	}
	return state
}

// Require returns a precondition error naming every missing output stage needs.
func (state State) Require(stage Stage) error {
	var problems []string
	for _, required := range requirements[stage] {
		if state.Completed[required] {
			continue
		}
		problems = append(problems, required.String()+" output missing: "+strings.Join(state.missing[required], ", "))
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return coreerrors.PreconditionFailed("%s requires earlier stages: %s", stage, strings.Join(problems, "; "))
}
