// Package schema defines the Go struct types for the test plan YAML schema
// and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PlanVersion is the only document version this build understands.
const PlanVersion = "plan/v0"

// Plan is the top-level document holding the suites of a sample test run.
type Plan struct {
	Version string  `yaml:"version" json:"version" jsonschema:"required,enum=plan/v0"`
	Suites  []Suite `yaml:"suites"  json:"suites"  jsonschema:"required"`
}

// Suite groups cases that share setup and teardown stages. Setup and
// teardown run around every case in the suite, not once per suite.
type Suite struct {
	Name     string           `yaml:"name"               json:"name" jsonschema:"required"`
	Source   string           `yaml:"source,omitempty"   json:"source,omitempty"`
	Setup    []DirectiveEntry `yaml:"setup,omitempty"    json:"setup,omitempty"`
	Teardown []DirectiveEntry `yaml:"teardown,omitempty" json:"teardown,omitempty"`
	Cases    []Case           `yaml:"cases,omitempty"    json:"cases,omitempty"`
}

// Case is one test case: a label plus the TEST stage directive sequence.
type Case struct {
	Name string           `yaml:"name" json:"name" jsonschema:"required"`
	Spec []DirectiveEntry `yaml:"spec,omitempty" json:"spec,omitempty"`
}

// DirectiveEntry is a single stage entry: a mapping from one directive name
// to its argument block. Argument blocks stay loosely typed; each directive's
// argument adapter owns their interpretation.
type DirectiveEntry map[string]any

// Load parses a plan document from a reader with strict field checking.
func Load(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// LoadFile parses a plan document from a file.
func LoadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
