package caserunner

import (
	"fmt"
	"strings"
)

// invokeExternal runs one command line to completion and captures the
// result. Last-call state is reset before running so a failed resolution
// never leaves stale success state behind. A non-zero exit is a captured
// outcome, annotated in the transcript and left to the assertion layer;
// only the inability to run the command at all is an error.
func (c *Case) invokeExternal(command, dir string) (int, string, error) {
	c.lastExitCode = 0
	c.lastOutput = ""

	c.printOut("\n# Calling: " + command)

	exitCode, combined, err := c.exec.Execute(c.ctx, command, dir)
	if err != nil {
		return 0, "", err
	}
	if exitCode != 0 {
		c.transcript.WriteString("# ... call did not succeed  ")
	}

	output := string(combined)
	c.lastExitCode = exitCode
	c.lastOutput = output
	c.setSymbol("_last_call_output", output)
	c.transcript.WriteString(output)
	return exitCode, output, nil
}

// callAllowError resolves a call target through the environment and invokes
// it, returning the exit code and output without further checks. Resolution
// failure is a CallError, distinct from a non-zero exit.
func (c *Case) callAllowError(args []any, kwargs map[string]any) (int, string, error) {
	if len(args) == 0 {
		return 0, "", configErrorf("call requires a target")
	}
	target := stringify(args[0])

	command, dir, err := c.env.ResolveCall(target, args[1:], kwargs)
	if err != nil {
		return 0, "", &CallError{Cause: fmt.Sprintf("could not resolve call: %v", err)}
	}
	return c.invokeExternal(command, dir)
}

// callNoError invokes a call target and raises a hard assertion failure when
// it exits non-zero.
func (c *Case) callNoError(args []any, kwargs map[string]any) (string, error) {
	exitCode, output, err := c.callAllowError(args, kwargs)
	if err != nil {
		return "", err
	}
	if err := c.assertThat(exitCode == 0, `call failed: "{}"`, args); err != nil {
		return output, err
	}
	return output, nil
}

// shell formats a literal command line from a template and positional
// arguments, then invokes it unconditionally (allow-error semantics).
func (c *Case) shell(command string, args ...any) (int, string, error) {
	formatted := c.formatString(command+strings.Repeat(" {}", len(args)), args...)
	return c.invokeExternal(formatted, "")
}
