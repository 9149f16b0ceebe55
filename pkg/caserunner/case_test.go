package caserunner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exemplar-tools/exemplar/pkg/schema"
)

// fakeResult is one canned command outcome.
type fakeResult struct {
	exitCode int
	output   string
}

// fakeExecutor replays canned results by command line and records every
// command it was asked to run.
type fakeExecutor struct {
	results  map[string]fakeResult
	commands []string
}

func (f *fakeExecutor) Execute(ctx context.Context, command string, dir string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	f.commands = append(f.commands, command)
	r := f.results[command]
	return r.exitCode, []byte(r.output), nil
}

// fakeEnv resolves targets from a fixed table and symbols from a map.
type fakeEnv struct {
	artifacts map[string]string
	symbols   map[string]string
	settings  map[string]string
}

func (f *fakeEnv) ResolveCall(target string, args []any, params map[string]any) (string, string, error) {
	command, ok := f.artifacts[target]
	if !ok {
		return "", "", fmt.Errorf("no such call target %q", target)
	}
	for _, a := range args {
		command += " " + fmt.Sprint(a)
	}
	return command, "", nil
}

func (f *fakeEnv) ResolveSymbol(name string) string {
	if v, ok := f.symbols[name]; ok {
		return v
	}
	return "{" + name + "}"
}

func (f *fakeEnv) Settings() map[string]string { return f.settings }

func newTestCase(t *testing.T, exec *fakeExecutor, env *fakeEnv,
	setup, test, teardown []schema.DirectiveEntry) *Case {
	t.Helper()
	if exec == nil {
		exec = &fakeExecutor{results: map[string]fakeResult{}}
	}
	if env == nil {
		env = &fakeEnv{artifacts: map[string]string{}}
	}
	return New(env, exec, zerolog.Nop(), 1, t.Name(), setup, test, teardown)
}

func entry(name string, block any) schema.DirectiveEntry {
	return schema.DirectiveEntry{name: block}
}

func TestEmptyCasePasses(t *testing.T) {
	c := newTestCase(t, nil, nil, nil, nil, nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, problems)
	assert.Empty(t, c.Failures())
	assert.Empty(t, c.Errors())
	assert.Equal(t, 1, c.Index())
	assert.Equal(t, t.Name(), c.Label())

	out := c.Output(0, "")
	assert.Contains(t, out, "### Test case SETUP")
	assert.Contains(t, out, "### Test case TEST")
	assert.Contains(t, out, "### Test case TEARDOWN")
}

func TestAssertionAbortsStageButTeardownRuns(t *testing.T) {
	c := newTestCase(t, nil, nil,
		nil,
		[]schema.DirectiveEntry{
			entry("code", `assert_that(false, "boom")`),
			entry("log", []any{"should not run"}),
		},
		[]schema.DirectiveEntry{
			entry("log", []any{"cleanup ran"}),
		})

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, problems, 1)

	require.Len(t, c.Failures(), 1)
	assert.Equal(t, "FAILED ASSERTION", c.Failures()[0].Status)

	out := c.Output(0, "")
	assert.NotContains(t, out, "should not run")
	assert.Contains(t, out, "cleanup ran")
}

func TestExpectationContinuesStage(t *testing.T) {
	c := newTestCase(t, nil, nil,
		nil,
		[]schema.DirectiveEntry{
			entry("code", `expect(false, "soft miss")`),
			entry("log", []any{"still running"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)

	require.Len(t, c.Failures(), 1)
	assert.Equal(t, "FAILED EXPECTATION", c.Failures()[0].Status)
	assert.Contains(t, c.Output(0, ""), "still running")
}

func TestCallNoErrorRecordsFailureOnNonZeroExit(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{
		"boom-cmd": {exitCode: 1, output: "bad things\n"},
	}}
	env := &fakeEnv{artifacts: map[string]string{"boom": "boom-cmd"}}

	c := newTestCase(t, exec, env,
		nil,
		[]schema.DirectiveEntry{
			entry("call", map[string]any{"target": "boom"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)

	require.Len(t, c.Failures(), 1)
	assert.Contains(t, c.Failures()[0].Message, "call failed")
	assert.Equal(t, 1, c.LastExitCode())
	assert.Equal(t, "bad things\n", c.LastOutput())

	out := c.Output(0, "")
	assert.Contains(t, out, "# Calling: boom-cmd")
	assert.Contains(t, out, "# ... call did not succeed")
	assert.Contains(t, out, "bad things")
}

func TestCallMayFailCapturesWithoutFailure(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{
		"flaky-cmd": {exitCode: 3, output: "meh"},
	}}
	env := &fakeEnv{artifacts: map[string]string{"flaky": "flaky-cmd"}}

	c := newTestCase(t, exec, env,
		nil,
		[]schema.DirectiveEntry{
			entry("call_may_fail", map[string]any{"target": "flaky"}),
			entry("assert_failure", nil),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, problems)
	assert.Equal(t, 3, c.LastExitCode())

	v, ok := c.Symbol("_last_call_output")
	require.True(t, ok)
	assert.Equal(t, "meh", v)
}

func TestCallErrorOnUnresolvableTarget(t *testing.T) {
	c := newTestCase(t, nil, nil,
		nil,
		[]schema.DirectiveEntry{
			entry("call", map[string]any{"target": "missing"}),
		},
		[]schema.DirectiveEntry{
			entry("log", []any{"cleanup ran"}),
		})

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)

	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Status, "CALL ERROR in stage TEST")
	assert.Contains(t, c.Errors()[0].Message, "could not resolve call")
	assert.Contains(t, c.Output(0, ""), "cleanup ran")

	// A failed resolution leaves no stale success state.
	assert.Equal(t, 0, c.LastExitCode())
	assert.Equal(t, "", c.LastOutput())
}

func TestConfiguredTargetKey(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{}}
	env := &fakeEnv{
		artifacts: map[string]string{"greet": "greet-cmd"},
		settings:  map[string]string{"call.target": "sample"},
	}

	c := newTestCase(t, exec, env,
		nil,
		[]schema.DirectiveEntry{
			entry("call", map[string]any{"sample": "greet"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, problems)
	require.Len(t, exec.commands, 1)
	assert.Equal(t, "greet-cmd", exec.commands[0])
}

func TestExtractMatchBindsVariable(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{
		"emit": {output: "count: 42\n"},
	}}

	c := newTestCase(t, exec, nil,
		nil,
		[]schema.DirectiveEntry{
			entry("shell", []any{"emit"}),
			entry("extract_match", map[string]any{"pattern": `(\d+)`, "variable": "n"}),
			entry("extract_match", map[string]any{"pattern": `(xyz)`, "variable": "m"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, problems)

	n, ok := c.Symbol("n")
	require.True(t, ok)
	assert.Equal(t, "42", n)

	// No match binds the variable to nil without raising.
	m, ok := c.Symbol("m")
	require.True(t, ok)
	assert.Nil(t, m)
}

func TestExtractMatchGroups(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{
		"emit": {output: "id=7 name=ada"},
	}}

	c := newTestCase(t, exec, nil,
		nil,
		[]schema.DirectiveEntry{
			entry("shell", []any{"emit"}),
			entry("extract_match", map[string]any{
				"pattern": `id=(\d+) name=(\w+)`,
				"groups":  []any{"id", "who"},
			}),
		},
		nil)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	id, _ := c.Symbol("id")
	who, _ := c.Symbol("who")
	assert.Equal(t, "7", id)
	assert.Equal(t, "ada", who)
}

func TestExtractMatchRejectsVariableAndGroups(t *testing.T) {
	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("extract_match", map[string]any{
				"pattern":  `(\d+)`,
				"variable": "n",
				"groups":   []any{"a"},
			}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Message, "cannot accept both")
}

func TestContainmentChecks(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{
		"emit": {output: "Apple Banana"},
	}}

	t.Run("contains_any passes on one match, case-insensitive", func(t *testing.T) {
		c := newTestCase(t, exec, nil, nil,
			[]schema.DirectiveEntry{
				entry("shell", []any{"emit"}),
				entry("assert_contains_any", []any{
					map[string]any{"literal": "apple"},
					map[string]any{"literal": "zucchini"},
				}),
			},
			nil)
		problems, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, problems)
	})

	t.Run("contains requires all values", func(t *testing.T) {
		c := newTestCase(t, exec, nil, nil,
			[]schema.DirectiveEntry{
				entry("shell", []any{"emit"}),
				entry("assert_contains", []any{
					map[string]any{"literal": "apple"},
					map[string]any{"literal": "zucchini"},
				}),
			},
			nil)
		problems, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, problems)
		require.Len(t, c.Failures(), 1)
		assert.Contains(t, c.Failures()[0].Message, "all of")
	})

	t.Run("excludes_any passes when one value is absent", func(t *testing.T) {
		c := newTestCase(t, exec, nil, nil,
			[]schema.DirectiveEntry{
				entry("shell", []any{"emit"}),
				entry("assert_excludes_any", []any{
					map[string]any{"literal": "apple"},
					map[string]any{"literal": "zucchini"},
				}),
			},
			nil)
		problems, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, problems)
	})

	t.Run("excludes_any fails when every value is present", func(t *testing.T) {
		c := newTestCase(t, exec, nil, nil,
			[]schema.DirectiveEntry{
				entry("shell", []any{"emit"}),
				entry("assert_excludes_any", []any{
					map[string]any{"literal": "apple"},
					map[string]any{"literal": "banana"},
				}),
			},
			nil)
		problems, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, problems)
		require.Len(t, c.Failures(), 1)
		assert.Contains(t, c.Failures()[0].Message, "any of")
	})

	t.Run("excludes fails on case-folded hit", func(t *testing.T) {
		c := newTestCase(t, exec, nil, nil,
			[]schema.DirectiveEntry{
				entry("shell", []any{"emit"}),
				entry("assert_excludes", []any{
					map[string]any{"literal": "BANANA"},
				}),
			},
			nil)
		problems, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, problems)
	})

	t.Run("custom message is used verbatim", func(t *testing.T) {
		c := newTestCase(t, exec, nil, nil,
			[]schema.DirectiveEntry{
				entry("shell", []any{"emit"}),
				entry("assert_contains", []any{
					map[string]any{"message": "expected fruit salad"},
					map[string]any{"literal": "kiwi"},
				}),
			},
			nil)
		_, err := c.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, c.Failures(), 1)
		assert.Equal(t, "expected fruit salad", c.Failures()[0].Message)
	})
}

func TestAssertSuccessAndFailureSugar(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{
		"ok-cmd": {exitCode: 0, output: "fine"},
	}}
	env := &fakeEnv{artifacts: map[string]string{"ok": "ok-cmd"}}

	c := newTestCase(t, exec, env, nil,
		[]schema.DirectiveEntry{
			entry("call", map[string]any{"target": "ok"}),
			entry("assert_success", nil),
			entry("assert_failure", []any{"wanted a crash"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	require.Len(t, c.Failures(), 1)
	assert.Equal(t, "wanted a crash", c.Failures()[0].Message)
}

func TestUUIDDirectiveBindsSymbol(t *testing.T) {
	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("uuid", "myid"),
		},
		nil)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	v, ok := c.Symbol("myid")
	require.True(t, ok)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}$`), v)
}

func TestEnvDirectiveBindsSymbol(t *testing.T) {
	t.Setenv("EXEMPLAR_TEST_REGION", "us-east1")

	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("env", map[string]any{"variable": "region", "name": "EXEMPLAR_TEST_REGION"}),
			entry("log", []any{"region is", "region"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, problems)

	v, _ := c.Symbol("region")
	assert.Equal(t, "us-east1", v)
	assert.Contains(t, c.Output(0, ""), "us-east1")
}

func TestEnvDirectiveUnsetVariableIsFault(t *testing.T) {
	c := newTestCase(t, nil, nil,
		[]schema.DirectiveEntry{
			entry("env", map[string]any{"variable": "v", "name": "EXEMPLAR_DEFINITELY_NOT_SET_1234"}),
		},
		nil,
		[]schema.DirectiveEntry{
			entry("log", []any{"cleanup ran"}),
		})

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)

	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Status, "UNHANDLED ERROR in stage SETUP")
	assert.Contains(t, c.Output(0, ""), "cleanup ran")
}

func TestUnknownDirectiveIsConfigFault(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{}}

	c := newTestCase(t, exec, nil, nil,
		[]schema.DirectiveEntry{
			entry("frobnicate", nil),
			entry("shell", []any{"never-runs"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)

	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Message, `unknown directive: "frobnicate"`)
	// No handler executed after the config fault.
	assert.Empty(t, exec.commands)
}

func TestCodeOnlyDirectiveRejectedDeclaratively(t *testing.T) {
	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("assert_that", []any{"whatever"}),
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Message, "only available inside a code directive")
}

func TestMultiDirectiveEntryRejected(t *testing.T) {
	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			{"log": []any{"a"}, "uuid": "x"},
		},
		nil)

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Message, "exactly one directive")
}

func TestShellQuotesUnknownTokensAndResolvesSymbols(t *testing.T) {
	exec := &fakeExecutor{results: map[string]fakeResult{}}

	c := newTestCase(t, exec, nil, nil,
		[]schema.DirectiveEntry{
			entry("uuid", "run_id"),
			entry("code", `run_id = "fixed"`),
			entry("shell", []any{"echo", "run_id", "plain"}),
		},
		nil)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, exec.commands, 1)
	assert.Equal(t, `echo fixed "plain"`, exec.commands[0])
}

func TestInterruptPropagatesAndSkipsTeardown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("log", []any{"never"}),
		},
		[]schema.DirectiveEntry{
			entry("log", []any{"teardown should not run"}),
		})

	problems, err := c.Run(ctx)
	require.Error(t, err)
	assert.GreaterOrEqual(t, problems, 1)

	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Status, "INTERRUPT in stage TEST")

	out := c.Output(0, "")
	assert.NotContains(t, out, "teardown should not run")
}

// trippingExecutor cancels the run context the first time it sees the
// trigger command, simulating an interrupt arriving mid-invocation.
type trippingExecutor struct {
	fakeExecutor
	trigger string
	cancel  context.CancelFunc
}

func (e *trippingExecutor) Execute(ctx context.Context, command string, dir string) (int, []byte, error) {
	if command == e.trigger {
		e.cancel()
		return 0, nil, ctx.Err()
	}
	return e.fakeExecutor.Execute(ctx, command, dir)
}

func TestInterruptDuringTeardownPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &trippingExecutor{
		fakeExecutor: fakeExecutor{results: map[string]fakeResult{}},
		trigger:      "cleanup-cmd",
		cancel:       cancel,
	}

	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("log", []any{"test ran"}),
		},
		[]schema.DirectiveEntry{
			entry("shell", []any{"cleanup-cmd"}),
			entry("log", []any{"after cleanup"}),
		})
	c.exec = exec

	problems, err := c.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, problems, 1)

	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Status, "INTERRUPT in stage TEARDOWN")

	out := c.Output(0, "")
	assert.Contains(t, out, "test ran")
	assert.NotContains(t, out, "after cleanup")
}

func TestCallErrorDuringTeardownRecorded(t *testing.T) {
	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("log", []any{"test ran"}),
		},
		[]schema.DirectiveEntry{
			entry("call", map[string]any{"target": "missing"}),
		})

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, problems)

	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Status, "CALL ERROR in stage TEARDOWN")
	assert.Contains(t, c.Errors()[0].Message, "could not resolve call")
}

func TestTeardownAbortRecordedAsError(t *testing.T) {
	c := newTestCase(t, nil, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("code", `assert_that(false, "teardown broke")`),
		})

	problems, err := c.Run(context.Background())
	require.NoError(t, err)
	// One failure from the assertion itself plus one error for the abort
	// reaching the teardown driver.
	assert.Equal(t, 2, problems)
	require.Len(t, c.Errors(), 1)
	assert.Contains(t, c.Errors()[0].Status, "ASSERTION FAILURE in stage TEARDOWN")
}

func TestTranscriptIndentation(t *testing.T) {
	c := newTestCase(t, nil, nil, nil,
		[]schema.DirectiveEntry{
			entry("log", []any{"hello"}),
		},
		nil)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	out := c.Output(4, "| ")
	for _, line := range strings.Split(out, "\n") {
		assert.True(t, strings.HasPrefix(line, "    | "), "line %q not prefixed", line)
	}
}
