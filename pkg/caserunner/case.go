// Package caserunner executes a single declarative test case: three ordered
// stages (setup, test, teardown) of named directives that invoke external
// commands, assert on their output, extract data and log. It tracks soft
// failures separately from infrastructure errors and accumulates a textual
// transcript of everything that happened.
package caserunner

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/exemplar-tools/exemplar/pkg/environment"
	"github.com/exemplar-tools/exemplar/pkg/executor"
	"github.com/exemplar-tools/exemplar/pkg/schema"
)

// keyContainsMessage is the argument-list key carrying a custom message for
// the containment-check directives.
const keyContainsMessage = "message"

// Problem is one reported failure or error: a category label plus the
// message formatted with its recorded arguments.
type Problem struct {
	Status  string
	Message string
}

// record is a failure or error as recorded: the message stays a template so
// accessors and the summary can format it on demand.
type record struct {
	status  string
	message string
	args    []any
}

// Case is one test case instance. It is created by the orchestrator, mutated
// only during Run, and read through accessors afterwards. A Case is not safe
// for concurrent use.
type Case struct {
	env  environment.Provider
	exec executor.CommandExecutor
	log  zerolog.Logger

	idx      int
	label    string
	setup    []schema.DirectiveEntry
	test     []schema.DirectiveEntry
	teardown []schema.DirectiveEntry

	dispatch map[string]dispatchEntry
	symbols  map[string]any

	transcript strings.Builder
	failures   []record
	errors     []record

	lastExitCode int
	lastOutput   string

	startTime time.Time
	endTime   time.Time

	// ctx is the run context, set for the duration of Run so directive
	// handlers and code-visible functions can observe cancellation.
	ctx context.Context

	// codeErr captures the first control-flow error raised by a directive
	// called from inside a code block, so classification does not depend on
	// how the expression engine wraps errors.
	codeErr error
}

// New constructs a case from its parsed stage specifications. The
// environment provider and command executor are the case's only links to
// the outside world; logger receives the status lines and transcript.
func New(env environment.Provider, exec executor.CommandExecutor, logger zerolog.Logger,
	idx int, label string, setup, test, teardown []schema.DirectiveEntry) *Case {

	c := &Case{
		env:      env,
		exec:     exec,
		log:      logger,
		idx:      idx,
		label:    label,
		setup:    setup,
		test:     test,
		teardown: teardown,
		dispatch: make(map[string]dispatchEntry),
		symbols:  make(map[string]any),
		ctx:      context.Background(),
	}
	c.registerBuiltins()
	return c
}

// registerBuiltins populates the dispatch table and seeds the symbol table.
// Every directive name is also a symbol, so embedded code sees the same
// surface as the declarative stages plus the code-only severity functions.
func (c *Case) registerBuiltins() {
	// Meta variables: snapshots of case identity plus the live last-output
	// entry, refreshed after every invocation.
	c.registerValue("testcase_num", c.idx)
	c.registerValue("testcase_id", c.label)
	c.registerValue("_last_call_output", "")

	// Process execution.
	c.register("call",
		func(target string, args ...any) (string, error) {
			out, err := c.callNoError(append([]any{target}, args...), nil)
			return out, c.keepCodeErr(err)
		},
		func(args []any, kwargs map[string]any) error {
			_, err := c.callNoError(args, kwargs)
			return err
		},
		c.paramsForCall)
	c.register("call_may_fail",
		func(target string, args ...any) ([]any, error) {
			code, out, err := c.callAllowError(append([]any{target}, args...), nil)
			return []any{code, out}, c.keepCodeErr(err)
		},
		func(args []any, kwargs map[string]any) error {
			_, _, err := c.callAllowError(args, kwargs)
			return err
		},
		c.paramsForCall)
	c.register("shell",
		func(cmd string, args ...any) ([]any, error) {
			code, out, err := c.shell(cmd, args...)
			return []any{code, out}, c.keepCodeErr(err)
		},
		func(args []any, kwargs map[string]any) error {
			if len(args) == 0 {
				return configErrorf("shell requires a command line")
			}
			_, _, err := c.shell(stringify(args[0]), args[1:]...)
			return err
		},
		c.yamlArgsString)

	// Other directives available to the suite.
	c.register("uuid", c.getUUID, nil, c.yamlGetUUID)
	c.register("env",
		func(name string) (string, error) { return c.getEnv(name) },
		nil,
		c.yamlGetEnv)
	c.register("log",
		func(msg string, args ...any) string { c.printOut(msg, args...); return "" },
		func(args []any, kwargs map[string]any) error {
			if len(args) == 0 {
				return nil
			}
			c.printOut(stringify(args[0]), args[1:]...)
			return nil
		},
		c.yamlArgsString)
	c.register("extract_match",
		func(pattern, variable string) (any, error) {
			return nil, c.keepCodeErr(c.extractMatch(pattern, variable, nil))
		},
		func(args []any, kwargs map[string]any) error {
			pattern, variable, groups, err := extractMatchArgs(args)
			if err != nil {
				return err
			}
			return c.extractMatch(pattern, variable, groups)
		},
		c.yamlExtractMatch)

	// Embedded code.
	c.register("code",
		func(block string) (any, error) { return nil, c.keepCodeErr(c.execute(block)) },
		func(args []any, kwargs map[string]any) error {
			if len(args) != 1 {
				return configErrorf("code requires a single block")
			}
			return c.execute(stringify(args[0]))
		},
		func(block any) (*callArgs, error) {
			return &callArgs{args: []any{block}}, nil
		})

	// Severity functions: code-only, never declarative.
	c.registerCodeOnly("fail", func() string { c.fail(); return "" })
	c.registerCodeOnly("expect", func(cond bool, msg string, args ...any) bool {
		c.expect(cond, msg, args...)
		return cond
	})
	c.registerCodeOnly("abort", func() (any, error) {
		return nil, c.keepCodeErr(c.abort())
	})
	c.registerCodeOnly("assert_that", func(cond bool, msg string, args ...any) (any, error) {
		return nil, c.keepCodeErr(c.assertThat(cond, msg, args...))
	})

	// Containment checks over the last captured output. Only the
	// assertion-severity variants are exposed: directive authors get
	// fail-fast checks, not soft ones.
	c.registerContains("assert_contains", aggAll, true)
	c.registerContains("assert_contains_any", aggAny, true)
	c.registerContains("assert_excludes", aggAll, false)
	c.registerContains("assert_not_contains", aggAll, false) // alias for assert_excludes
	c.registerContains("assert_excludes_any", aggAny, false)

	// Exit-code sugar for the last invocation.
	c.register("assert_success",
		func(args ...any) (any, error) { return nil, c.keepCodeErr(c.assertSuccess(args...)) },
		func(args []any, kwargs map[string]any) error { return c.assertSuccess(args...) },
		c.yamlArgsString)
	c.register("assert_failure",
		func(args ...any) (any, error) { return nil, c.keepCodeErr(c.assertFailure(args...)) },
		func(args []any, kwargs map[string]any) error { return c.assertFailure(args...) },
		c.yamlArgsString)
}

// registerContains wires one containment directive: the code-visible value
// takes the candidate values directly, the declarative handler goes through
// the list-shaped argument adapter. Embedded code has no keyword-argument
// syntax, so code callers always get case-insensitive matching and the
// generated message; a custom message needs the declarative form.
func (c *Case) registerContains(name string, agg aggregator, contains bool) {
	checker := c.containChecker(severityAssert, agg, contains)
	c.register(name,
		func(values ...any) (any, error) {
			return nil, c.keepCodeErr(checker(values, map[string]any{"case_sensitive": false}))
		},
		checker,
		c.paramsForContains)
}

// keepCodeErr remembers the first control-flow error raised while embedded
// code is running, so the code evaluator can classify it reliably.
func (c *Case) keepCodeErr(err error) error {
	if err != nil && c.codeErr == nil {
		c.codeErr = err
	}
	return err
}

func (c *Case) recordFailure(status, message string, args ...any) {
	c.failures = append(c.failures, record{status: status, message: message, args: args})
}

func (c *Case) recordError(status, message string, args ...any) {
	c.errors = append(c.errors, record{status: status, message: message, args: args})
}

// printOut formats msg with args and appends it to the case transcript.
func (c *Case) printOut(msg string, args ...any) {
	c.transcript.WriteString(c.formatString(msg, args...) + "\n")
}

// getUUID returns a fresh random identifier.
func (c *Case) getUUID() string {
	return uuid.NewString()
}

// getEnv reads a process environment variable, failing when it is unset so
// the fault is reported instead of silently binding an empty string.
func (c *Case) getEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", configErrorf("environment variable %q is not set", name)
	}
	return v, nil
}

// Accessors. Valid only after Run has returned.

// Index returns the case's ordinal index.
func (c *Case) Index() int { return c.idx }

// Label returns the case's human label.
func (c *Case) Label() string { return c.label }

// Failures returns the recorded assertion/expectation violations.
func (c *Case) Failures() []Problem { return formatRecords(c.failures) }

// Errors returns the recorded infrastructure problems.
func (c *Case) Errors() []Problem { return formatRecords(c.errors) }

// LastExitCode returns the exit code of the most recent invocation.
func (c *Case) LastExitCode() int { return c.lastExitCode }

// LastOutput returns the combined output of the most recent invocation.
func (c *Case) LastOutput() string { return c.lastOutput }

// StartTime returns when Run began.
func (c *Case) StartTime() time.Time { return c.startTime }

// EndTime returns when Run finished.
func (c *Case) EndTime() time.Time { return c.endTime }

// Symbol reports the current binding of a symbol-table entry.
func (c *Case) Symbol(name string) (any, bool) {
	v, ok := c.symbols[name]
	return v, ok
}

// Output returns the transcript with every line indented and prefixed.
func (c *Case) Output(indent int, header string) string {
	return reindent(c.transcript.String(), indent, header)
}

func formatRecords(records []record) []Problem {
	out := make([]Problem, 0, len(records))
	for _, r := range records {
		out = append(out, Problem{Status: r.status, Message: formatPositional(r.message, r.args...)})
	}
	return out
}

// reindent prefixes every transcript line with indent spaces and header.
func reindent(s string, indent int, header string) string {
	prefix := strings.Repeat(" ", indent) + header
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
