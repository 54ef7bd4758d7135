package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/attest/core/archive"
	"github.com/davidahmann/attest/core/config"
	"github.com/davidahmann/attest/core/fsx"
	"github.com/davidahmann/attest/core/ledger"
	"github.com/davidahmann/attest/core/pipeline"
	"github.com/davidahmann/attest/core/sbom"
	"github.com/davidahmann/attest/core/score"
	"github.com/davidahmann/attest/core/sign"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

const writeCheckName = ".attest-doctor-writecheck"

type Options struct {
	Config          config.Config
	KeySource       sign.KeySource
	ProducerVersion string
	LookPath        func(string) (string, error)
}

type Result struct {
	SchemaID        string   `json:"schema_id"`
	SchemaVersion   string   `json:"schema_version"`
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	NonFixable      bool     `json:"non_fixable"`
	Summary         string   `json:"summary"`
	Stages          []string `json:"completed_stages"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
	NonFixable bool   `json:"non_fixable,omitempty"`
}

// Run inspects the workspace described by opts.Config and reports whether each
// pipeline stage has what it needs. It never modifies pipeline outputs.
func Run(opts Options) Result {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	configuration := opts.Config
	layout := pipeline.NewLayout(configuration)

	checks := []Check{
		checkRootWritable(configuration.Root),
		checkOutputDir("audit_dir", configuration.AuditDir),
		checkOutputDir("dist_dir", configuration.DistDir),
		checkOutputDir("metrics_dir", configuration.MetricsDir),
		checkGraphSource(configuration.SBOM, lookPath),
		checkBuildCommand(configuration.Package.BuildCommand, lookPath),
		checkArtifacts(configuration.Package),
		checkCodec(configuration.Package.Codec),
		checkSigningKey(opts.KeySource),
		checkLedger(layout),
		checkTrustScore(layout),
		checkGit(lookPath),
	}

	failed := 0
	warned := 0
	nonFixable := false
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failed++
		case statusWarn:
			warned++
		}
		if check.NonFixable {
			nonFixable = true
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := statusPass
	if failed > 0 {
		status = statusFail
	} else if warned > 0 {
		status = statusWarn
	}

	sort.Strings(fixCommands)
	summary := fmt.Sprintf("doctor: status=%s failed=%d warned=%d non_fixable=%t", status, failed, warned, nonFixable)

	return Result{
		SchemaID:        "attest.doctor.result",
		SchemaVersion:   "1.0.0",
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Status:          status,
		NonFixable:      nonFixable,
		Summary:         summary,
		Stages:          completedStages(layout),
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func completedStages(layout pipeline.Layout) []string {
	state := pipeline.Inspect(layout)
	stages := make([]string, 0, len(state.Completed))
	for _, stage := range []pipeline.Stage{pipeline.StageSBOM, pipeline.StagePackage, pipeline.StageSign, pipeline.StageScore, pipeline.StagePublish} {
		if state.Completed[stage] {
			stages = append(stages, stage.String())
		}
	}
	return stages
}

func checkRootWritable(root string) Check {
	info, err := os.Stat(root)
	if err != nil {
		return Check{
			Name:       "root",
			Status:     statusFail,
			Message:    fmt.Sprintf("root not accessible: %v", err),
			FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(root)),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:       "root",
			Status:     statusFail,
			Message:    "root is not a directory",
			NonFixable: true,
		}
	}
	if err := writeCheck(root); err != nil {
		return Check{
			Name:       "root",
			Status:     statusFail,
			Message:    fmt.Sprintf("root not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(root)),
		}
	}
	return Check{
		Name:    "root",
		Status:  statusPass,
		Message: "root is writable",
	}
}

func checkOutputDir(name, dir string) Check {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:       name,
				Status:     statusWarn,
				Message:    fmt.Sprintf("%s does not exist yet", dir),
				FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(dir)),
			}
		}
		return Check{
			Name:    name,
			Status:  statusFail,
			Message: fmt.Sprintf("directory check failed: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:       name,
			Status:     statusFail,
			Message:    fmt.Sprintf("%s is not a directory", dir),
			NonFixable: true,
		}
	}
	if err := writeCheck(dir); err != nil {
		return Check{
			Name:       name,
			Status:     statusFail,
			Message:    fmt.Sprintf("directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(dir)),
		}
	}
	return Check{
		Name:    name,
		Status:  statusPass,
		Message: fmt.Sprintf("%s is writable", dir),
	}
}

func writeCheck(dir string) error {
	testPath := filepath.Join(dir, writeCheckName)
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return err
	}
	_ = os.Remove(testPath)
	return nil
}

func checkGraphSource(cfg config.SBOMConfig, lookPath func(string) (string, error)) Check {
	if cfg.GraphFile != "" {
		// #nosec G304 -- graph path is explicit local user input.
		content, err := os.ReadFile(cfg.GraphFile)
		if err != nil {
			return Check{
				Name:    "graph_source",
				Status:  statusFail,
				Message: fmt.Sprintf("read graph file: %v", err),
			}
		}
		graph, err := sbom.ParseGraph(content)
		if err != nil {
			return Check{
				Name:       "graph_source",
				Status:     statusFail,
				Message:    fmt.Sprintf("graph file is invalid: %v", err),
				NonFixable: true,
			}
		}
		if _, err := sbom.ResolveRoots(graph, cfg.PrimaryRoots); err != nil {
			return Check{
				Name:    "graph_source",
				Status:  statusFail,
				Message: fmt.Sprintf("primary roots: %v", err),
			}
		}
		return Check{
			Name:    "graph_source",
			Status:  statusPass,
			Message: fmt.Sprintf("graph file has %d packages", len(graph.Packages)),
		}
	}
	command := cfg.GraphCommand
	if len(command) == 0 {
		command = sbom.DefaultGraphCommand
	}
	if _, err := lookPath(command[0]); err != nil {
		return Check{
			Name:       "graph_source",
			Status:     statusFail,
			Message:    fmt.Sprintf("graph command %s not found on PATH", command[0]),
			FixCommand: "set sbom.graph_file in .attest/config.yaml or pass --graph",
		}
	}
	return Check{
		Name:    "graph_source",
		Status:  statusPass,
		Message: fmt.Sprintf("graph command %s is available", strings.Join(command, " ")),
	}
}

func checkBuildCommand(command []string, lookPath func(string) (string, error)) Check {
	if len(command) == 0 {
		return Check{
			Name:    "build_command",
			Status:  statusPass,
			Message: "no build command configured",
		}
	}
	if _, err := lookPath(command[0]); err != nil {
		return Check{
			Name:    "build_command",
			Status:  statusFail,
			Message: fmt.Sprintf("build command %s not found on PATH", command[0]),
		}
	}
	return Check{
		Name:    "build_command",
		Status:  statusPass,
		Message: fmt.Sprintf("build command %s is available", command[0]),
	}
}

func checkArtifacts(cfg config.PackageConfig) Check {
	if len(cfg.Artifacts) == 0 {
		return Check{
			Name:       "artifacts",
			Status:     statusWarn,
			Message:    "no package artifacts configured",
			FixCommand: "add package.artifacts to .attest/config.yaml",
		}
	}
	for _, spec := range cfg.Artifacts {
		if !spec.IsArchive() {
			continue
		}
		if err := archive.ValidatePatterns(append(append([]string{}, spec.Include...), spec.Exclude...)); err != nil {
			return Check{
				Name:    "artifacts",
				Status:  statusFail,
				Message: fmt.Sprintf("artifact %s: %v", spec.Name, err),
			}
		}
	}
	return Check{
		Name:    "artifacts",
		Status:  statusPass,
		Message: fmt.Sprintf("%d package artifacts configured", len(cfg.Artifacts)),
	}
}

func checkCodec(codec string) Check {
	if _, err := archive.Extension(codec); err != nil {
		return Check{
			Name:       "codec",
			Status:     statusFail,
			Message:    err.Error(),
			FixCommand: "set package.codec to gzip or none",
		}
	}
	return Check{
		Name:    "codec",
		Status:  statusPass,
		Message: fmt.Sprintf("archive codec %s is supported", codec),
	}
}

func checkSigningKey(source sign.KeySource) Check {
	key, err := sign.LoadKey(source)
	if err != nil {
		return Check{
			Name:       "signing_key",
			Status:     statusFail,
			Message:    err.Error(),
			FixCommand: fmt.Sprintf("export %s=<hex key> or write a hex key to %s", source.EnvName, shellQuote(source.Path)),
		}
	}
	return Check{
		Name:    "signing_key",
		Status:  statusPass,
		Message: fmt.Sprintf("signing key %s loaded from %s", key.Fingerprint(), key.Origin()),
	}
}

func checkLedger(layout pipeline.Layout) Check {
	if !fsx.Exists(layout.LedgerPath()) {
		return Check{
			Name:    "ledger",
			Status:  statusPass,
			Message: "no ledger yet",
		}
	}
	report, err := ledger.Audit(layout)
	if err != nil {
		return Check{
			Name:    "ledger",
			Status:  statusFail,
			Message: fmt.Sprintf("audit ledger: %v", err),
		}
	}
	if !report.OK() {
		return Check{
			Name:       "ledger",
			Status:     statusFail,
			Message:    report.Err().Error(),
			NonFixable: true,
		}
	}
	return Check{
		Name:    "ledger",
		Status:  statusPass,
		Message: fmt.Sprintf("ledger has %d intact entries", report.Lines),
	}
}

func checkTrustScore(layout pipeline.Layout) Check {
	path := layout.TrustScorePath()
	if !fsx.Exists(path) {
		return Check{
			Name:    "trust_score",
			Status:  statusPass,
			Message: "no trust score yet",
		}
	}
	record, err := score.Read(path)
	if err != nil {
		return Check{
			Name:       "trust_score",
			Status:     statusFail,
			Message:    err.Error(),
			FixCommand: "attest score",
		}
	}
	if record.TrustScore < 1 {
		return Check{
			Name:       "trust_score",
			Status:     statusWarn,
			Message:    fmt.Sprintf("last trust score %.1f at %s", record.TrustScore, record.Timestamp),
			FixCommand: "attest verify",
		}
	}
	return Check{
		Name:    "trust_score",
		Status:  statusPass,
		Message: fmt.Sprintf("last trust score 1.0 at %s", record.Timestamp),
	}
}

func checkGit(lookPath func(string) (string, error)) Check {
	if _, err := lookPath("git"); err != nil {
		return Check{
			Name:    "git",
			Status:  statusWarn,
			Message: "git not found; publish records the snapshot as " + ledger.UnversionedSnapshot,
		}
	}
	return Check{
		Name:    "git",
		Status:  statusPass,
		Message: "git is available for snapshot ids",
	}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
