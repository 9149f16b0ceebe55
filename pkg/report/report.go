// Package report aggregates case results across a run and renders them for
// the console and for CI consumers.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/exemplar-tools/exemplar/pkg/caserunner"
)

// CaseResult is the recorded outcome of one executed case.
type CaseResult struct {
	Index      int
	Suite      string
	Case       string
	Problems   int
	Failures   []caserunner.Problem
	Errors     []caserunner.Problem
	Transcript string
	Duration   time.Duration
}

// Status reports the case outcome: failures take precedence over errors.
func (r *CaseResult) Status() string {
	switch {
	case len(r.Failures) > 0:
		return "FAILED"
	case len(r.Errors) > 0:
		return "ERRORED"
	default:
		return "PASSED"
	}
}

// Summary counts case outcomes across a run.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Errored int
}

// Problems is the run's combined problem count, the process exit status.
func Problems(results []CaseResult) int {
	total := 0
	for _, r := range results {
		total += r.Problems
	}
	return total
}

// Summarize folds case results into outcome counts.
func Summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status() {
		case "FAILED":
			s.Failed++
		case "ERRORED":
			s.Errored++
		default:
			s.Passed++
		}
	}
	return s
}

var (
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	erroredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "FAILED":
		return failedStyle
	case "ERRORED":
		return erroredStyle
	default:
		return passedStyle
	}
}

// Render produces the console rollup: one line per case and a totals line.
func Render(results []CaseResult) string {
	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("%s %3d  %s: %s %s\n",
			statusStyle(r.Status()).Render(fmt.Sprintf("%-7s", r.Status())),
			r.Index, r.Suite, r.Case,
			mutedStyle.Render(fmt.Sprintf("(%s)", r.Duration.Round(time.Millisecond)))))
	}

	s := Summarize(results)
	sb.WriteString(fmt.Sprintf("\n%d cases: %s, %s, %s\n",
		s.Total,
		passedStyle.Render(fmt.Sprintf("%d passed", s.Passed)),
		failedStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
		erroredStyle.Render(fmt.Sprintf("%d errored", s.Errored))))
	return sb.String()
}
