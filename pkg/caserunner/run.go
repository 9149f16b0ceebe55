package caserunner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/exemplar-tools/exemplar/pkg/schema"
)

// Stage names, entered in this fixed order. TEARDOWN is unconditionally
// reached from anything that happens in SETUP or TEST except an interrupt.
const (
	StageSetup    = "SETUP"
	StageTest     = "TEST"
	StageTeardown = "TEARDOWN"
)

// Run executes the case's three stages and returns the total problem count
// (failures plus errors). The returned error is non-nil only when the run
// was interrupted; every other condition is contained and reported through
// the failure/error lists and the transcript.
func (c *Case) Run(ctx context.Context) (int, error) {
	c.ctx = ctx
	c.startTime = time.Now()
	defer func() { c.endTime = time.Now() }()
	logPrefix := fmt.Sprintf("---- Test case %d: %q", c.idx, c.label)

	stages := []struct {
		name string
		spec []schema.DirectiveEntry
	}{
		{StageSetup, c.setup},
		{StageTest, c.test},
	}

	for _, stage := range stages {
		c.printOut("\n### Test case " + stage.name)
		err := c.runStage(stage.spec)
		if err == nil {
			continue
		}

		switch classified := classify(err); classified {
		case kindAbort:
			// The originating assertion already recorded a Failure;
			// remaining stages before teardown are skipped.
		case kindCall:
			var ce *CallError
			errors.As(err, &ce)
			status := "CALL ERROR in stage " + stage.name
			c.recordError(status, ce.Cause)
			c.printOut(status + ": " + ce.Cause)
		case kindInterrupt:
			status := "INTERRUPT in stage " + stage.name
			c.recordError(status, "interrupt detected")
			c.printOut(status)
			c.log.Warn().Str("stage", stage.name).Msg("interrupted")
			return c.problemCount(), err
		default:
			c.recordFault(stage.name, err)
		}
		break
	}

	c.printOut("\n### Test case " + StageTeardown)
	if err := c.runStage(c.teardown); err != nil {
		switch classify(err) {
		case kindAbort:
			// Teardown is expected to always complete cleanly; an abort
			// here is an infrastructure problem, not a test outcome.
			status := "unexpected ASSERTION FAILURE in stage " + StageTeardown
			c.recordError(status, "assertion failure in stage "+StageTeardown)
			c.printOut(status)
		case kindCall:
			var ce *CallError
			errors.As(err, &ce)
			status := "CALL ERROR in stage " + StageTeardown
			c.recordError(status, ce.Cause)
			c.printOut(status + ": " + ce.Cause)
		case kindInterrupt:
			status := "INTERRUPT in stage " + StageTeardown
			c.recordError(status, "interrupt detected")
			c.printOut(status)
			c.log.Warn().Str("stage", StageTeardown).Msg("interrupted")
			return c.problemCount(), err
		default:
			c.recordFault(StageTeardown, err)
		}
	}

	c.logSummary(logPrefix)
	return c.problemCount(), nil
}

// runStage executes one stage's directive sequence, converting panics into
// faults so a misshapen argument block cannot take down the whole run.
func (c *Case) runStage(spec []schema.DirectiveEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicFault{value: r, stack: debug.Stack()}
		}
	}()

	for _, entry := range spec {
		if cerr := c.ctx.Err(); cerr != nil {
			return cerr
		}
		if err := c.runSegment(entry); err != nil {
			return err
		}
	}
	return nil
}

type errKind int

const (
	kindFault errKind = iota
	kindAbort
	kindCall
	kindInterrupt
)

// classify sorts a stage error into the failure taxonomy: stage-abort
// control flow, call-resolution errors, interrupts, and everything else as
// an uncaught fault.
func classify(err error) errKind {
	switch {
	case errors.Is(err, errStageAbort):
		return kindAbort
	case isCallError(err):
		return kindCall
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return kindInterrupt
	default:
		return kindFault
	}
}

func isCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// recordFault records an uncaught fault: short description in the
// transcript, description plus captured stack (for panics) in the error
// list.
func (c *Case) recordFault(stage string, err error) {
	status := "UNHANDLED ERROR in stage " + stage
	description := err.Error()
	var pf *panicFault
	if errors.As(err, &pf) {
		description += "\n" + string(pf.stack)
	}
	c.recordError(status, description)
	c.printOut("# ERROR!! " + err.Error())
}

func (c *Case) problemCount() int {
	return len(c.failures) + len(c.errors)
}

// logSummary emits the per-case status line and, when the case did not
// pass, the recorded problems and the indented transcript.
func (c *Case) logSummary(prefix string) {
	switch {
	case len(c.failures) > 0:
		c.log.Info().Msgf("%s FAILED --------------------", prefix)
		for _, f := range c.failures {
			c.log.Info().Msgf("    %s: %s", f.status, c.formatString(f.message, f.args...))
		}
	case len(c.errors) > 0:
		c.log.Info().Msgf("%s ERRORED --------------------", prefix)
		for _, e := range c.errors {
			c.log.Info().Msgf("    %s: (check state: clean-up did not finish) %s", e.status, c.formatString(e.message, e.args...))
		}
	default:
		c.log.Info().Msgf("%s PASSED ------------------------------", prefix)
		return
	}

	c.log.Info().Msg("    Output:")
	c.log.Info().Msg(c.Output(4, "| "))
}
