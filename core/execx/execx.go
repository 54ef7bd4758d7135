// Package execx runs the external commands the pipeline treats as opaque
// collaborators: the build step, the dependency graph producer and git.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
}

// Command describes one subprocess. Env entries are appended to the parent
// environment and win over inherited values of the same name.
type Command struct {
	Argv []string
	Dir  string
	Env  []string
}

// Run executes command and returns its output. A non-zero exit is reported in
// Result.ExitCode, not as an error; errors mean the command could not run at all.
func Run(ctx context.Context, command Command) (Result, error) {
	if len(command.Argv) == 0 || strings.TrimSpace(command.Argv[0]) == "" {
		return Result{}, fmt.Errorf("missing command")
	}
	cmd := exec.CommandContext(ctx, command.Argv[0], command.Argv[1:]...) // #nosec G204 -- argv comes from project config or fixed callers.
	cmd.Dir = strings.TrimSpace(command.Dir)
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("run %s: %w", command.Argv[0], err)
		}
	}
	return Result{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
	}, nil
}

// Output runs command and fails on a non-zero exit, folding stderr into the error.
func Output(ctx context.Context, command Command) ([]byte, error) {
	result, err := Run(ctx, command)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		if result.Stderr != "" {
			return nil, fmt.Errorf("%s exited with status %d: %s", command.Argv[0], result.ExitCode, result.Stderr)
		}
		return nil, fmt.Errorf("%s exited with status %d", command.Argv[0], result.ExitCode)
	}
	return result.Stdout, nil
}
