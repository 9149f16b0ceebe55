package caserunner

import (
	"fmt"
	"strings"
)

// aggregator selects how containment results over several values combine.
type aggregator int

const (
	aggAll aggregator = iota
	aggAny
)

func (a aggregator) label() string {
	if a == aggAny {
		return "any of"
	}
	return "all of"
}

func (a aggregator) combine(results []bool) bool {
	if a == aggAny {
		for _, r := range results {
			if r {
				return true
			}
		}
		return len(results) == 0
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// expect records a Failure when condition is false; execution of the current
// stage continues.
func (c *Case) expect(condition bool, message string, args ...any) {
	if !condition {
		c.recordFailure("FAILED EXPECTATION", message, args...)
		c.printOut("# FAILED EXPECTATION", append([]any{message}, args...)...)
	}
}

// fail explicitly records a Failure without aborting the stage.
func (c *Case) fail() {
	c.expect(false, "failure")
}

// assertThat records a Failure and raises the stage-abort signal when
// condition is false: the remaining directives of the current stage are
// skipped, other stages are unaffected.
func (c *Case) assertThat(condition bool, message string, args ...any) error {
	if !condition {
		c.recordFailure("FAILED ASSERTION", message, args...)
		c.printOut("# FAILED ASSERTION: "+message, args...)
		return errStageAbort
	}
	return nil
}

// abort explicitly fails and aborts the current stage.
func (c *Case) abort() error {
	return c.assertThat(false, "abort called")
}

// assertSuccess asserts that the last invocation exited zero.
func (c *Case) assertSuccess(args ...any) error {
	message, rest := messageOrDefault(args, "expected last call to succeed")
	return c.assertThat(c.lastExitCode == 0, message, rest...)
}

// assertFailure asserts that the last invocation exited non-zero.
func (c *Case) assertFailure(args ...any) error {
	message, rest := messageOrDefault(args, "expected last call to fail")
	return c.assertThat(c.lastExitCode != 0, message, rest...)
}

// messageOrDefault splits an optional leading custom message from its
// formatting arguments.
func messageOrDefault(args []any, def string) (string, []any) {
	if len(args) == 0 {
		return def, nil
	}
	message := stringify(args[0])
	if strings.TrimSpace(message) == "" {
		return def, args[1:]
	}
	return message, args[1:]
}

// lastOutputContains tests substring presence in the most recent captured
// output, case-folded unless caseSensitive.
func (c *Case) lastOutputContains(substr string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(c.lastOutput, substr)
	}
	return strings.Contains(strings.ToLower(c.lastOutput), strings.ToLower(substr))
}

// severity selects how a violated check is reported: a soft expectation
// that lets the stage continue, or a hard assertion that aborts it.
type severity int

const (
	severityExpect severity = iota
	severityAssert
)

func (s severity) label() string {
	if s == severityAssert {
		return "required"
	}
	return "expected"
}

func (s severity) check(c *Case, condition bool, message string, args ...any) error {
	if s == severityAssert {
		return c.assertThat(condition, message, args...)
	}
	c.expect(condition, message, args...)
	return nil
}

// containChecker builds the handler for one containment directive: it tests
// each value for presence (or absence) in the last output and combines the
// results with the chosen aggregator, reporting the combined outcome at the
// chosen severity.
func (c *Case) containChecker(sev severity, agg aggregator, contains bool) handlerFunc {
	return func(values []any, kwargs map[string]any) error {
		message := ""
		if m, ok := kwargs[keyContainsMessage]; ok {
			message = stringify(m)
		}
		caseSensitive := false
		if cs, ok := kwargs["case_sensitive"].(bool); ok {
			caseSensitive = cs
		}

		condition := func(substr string) bool {
			found := c.lastOutputContains(substr, caseSensitive)
			if contains {
				return found
			}
			return !found
		}
		return c.checkSeveral(sev, agg, condition, message, values)
	}
}

// checkSeveral applies condition to each value, combines the results with
// the aggregator, and reports the combined outcome at the given severity.
// When no custom message is given, one is generated naming the severity,
// the aggregator, and the values tested.
func (c *Case) checkSeveral(sev severity, agg aggregator, condition func(string) bool, message string, values []any) error {
	if message == "" {
		message = fmt.Sprintf(
			"%s, but did not find, %s the following values in the preceding output: %v",
			sev.label(), agg.label(), values)
	}

	results := make([]bool, 0, len(values))
	for _, v := range values {
		results = append(results, condition(stringify(v)))
	}
	return sev.check(c, agg.combine(results), message)
}
