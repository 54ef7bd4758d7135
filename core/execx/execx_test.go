package execx

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)
	result, err := Run(context.Background(), Command{
		Argv: []string{"sh", "-c", "printf out; printf err 1>&2; exit 3"},
		Dir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 3 || string(result.Stdout) != "out" || result.Stderr != "err" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunPassesEnvironment(t *testing.T) {
	requireShell(t)
	output, err := Output(context.Background(), Command{
		Argv: []string{"sh", "-c", "printf %s \"$SOURCE_DATE_EPOCH\""},
		Env:  []string{"SOURCE_DATE_EPOCH=42"},
	})
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if string(output) != "42" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestOutputFailsOnNonZeroExit(t *testing.T) {
	requireShell(t)
	_, err := Output(context.Background(), Command{Argv: []string{"sh", "-c", "echo broken 1>&2; exit 1"}})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestRunRejectsMissingCommand(t *testing.T) {
	if _, err := Run(context.Background(), Command{}); err == nil {
		t.Fatal("expected missing command error")
	}
	if _, err := Run(context.Background(), Command{Argv: []string{"attest-command-that-does-not-exist"}}); err == nil {
		t.Fatal("expected lookup error")
	}
}
