// Package executor abstracts external process invocation so the case runner
// can be driven by a real subshell in production and by fakes in tests.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandExecutor runs one command line to completion and captures its
// combined output. A non-zero exit code is a normal outcome, not an error;
// err is non-nil only when the command could not be run at all.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, dir string) (exitCode int, combined []byte, err error)
}

// ShellExecutor runs command lines through a subshell, merging stderr into
// stdout. This matches how sample invocations are written: one opaque string,
// shell word-splitting and redirections included.
type ShellExecutor struct {
	// Shell overrides the interpreter; empty means /bin/sh.
	Shell string
}

// Execute runs `sh -c command` in dir and returns the exit code and the
// merged output. Cancellation of ctx kills the child and surfaces as err.
func (s *ShellExecutor) Execute(ctx context.Context, command string, dir string) (int, []byte, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return 0, combined.Bytes(), cerr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), combined.Bytes(), nil
		}
		return 0, combined.Bytes(), fmt.Errorf("run %q: %w", command, err)
	}
	return 0, combined.Bytes(), nil
}
