package report

import (
	"encoding/xml"
	"fmt"
	"io"
)

// xUnit-style XML output so CI systems can ingest run results.

type xunitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []xunitSuite `xml:"testsuite"`
}

type xunitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []xunitCase `xml:"testcase"`
}

type xunitCase struct {
	Name      string         `xml:"name,attr"`
	ClassName string         `xml:"classname,attr"`
	Time      string         `xml:"time,attr"`
	Failures  []xunitProblem `xml:"failure,omitempty"`
	Errors    []xunitProblem `xml:"error,omitempty"`
	SystemOut string         `xml:"system-out,omitempty"`
}

type xunitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

// WriteXUnit renders case results as xUnit XML, one testsuite per plan
// suite, preserving result order.
func WriteXUnit(w io.Writer, results []CaseResult) error {
	var doc xunitSuites
	index := make(map[string]int)

	for _, r := range results {
		i, ok := index[r.Suite]
		if !ok {
			i = len(doc.Suites)
			index[r.Suite] = i
			doc.Suites = append(doc.Suites, xunitSuite{Name: r.Suite})
		}
		suite := &doc.Suites[i]

		tc := xunitCase{
			Name:      r.Case,
			ClassName: r.Suite,
			Time:      fmt.Sprintf("%.3f", r.Duration.Seconds()),
		}
		for _, f := range r.Failures {
			tc.Failures = append(tc.Failures, xunitProblem{Message: f.Message, Type: f.Status})
		}
		for _, e := range r.Errors {
			tc.Errors = append(tc.Errors, xunitProblem{Message: e.Message, Type: e.Status})
		}
		if r.Status() != "PASSED" {
			tc.SystemOut = r.Transcript
		}

		suite.Tests++
		if len(r.Failures) > 0 {
			suite.Failures++
		} else if len(r.Errors) > 0 {
			suite.Errors++
		}
		suite.Cases = append(suite.Cases, tc)
	}

	totals := make(map[string]float64)
	for _, r := range results {
		totals[r.Suite] += r.Duration.Seconds()
	}
	for i := range doc.Suites {
		doc.Suites[i].Time = fmt.Sprintf("%.3f", totals[doc.Suites[i].Name])
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xunit: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
