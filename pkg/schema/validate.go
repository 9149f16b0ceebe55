package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "suites[0].cases[1].spec")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a plan file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Plan, []*ValidationError) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return p, Validate(p)
}

// Validate runs the semantic and domain phases on an already-decoded plan.
func Validate(p *Plan) []*ValidationError {
	var allErrors []*ValidationError
	allErrors = append(allErrors, validateSemantic(p)...)
	allErrors = append(allErrors, ValidateDomain(p)...)
	return allErrors
}

// validateSemantic validates the plan against the generated JSON Schema.
func validateSemantic(p *Plan) []*ValidationError {
	data, err := json.Marshal(p)
	if err != nil {
		return []*ValidationError{semanticErr("marshal for schema validation: %v", err)}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{semanticErr("generate schema: %v", err)}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{semanticErr("unmarshal schema: %v", err)}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("plan-v0.json", schemaDoc); err != nil {
		return []*ValidationError{semanticErr("add schema resource: %v", err)}
	}

	sch, err := c.Compile("plan-v0.json")
	if err != nil {
		return []*ValidationError{semanticErr("compile schema: %v", err)}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{semanticErr("unmarshal document: %v", err)}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, semanticErr("%v", err))
		}
		return errs
	}
	return nil
}

func semanticErr(format string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    "semantic",
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(p *Plan) []*ValidationError {
	var errs []*ValidationError

	if p.Version != PlanVersion {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "version",
			Message:  fmt.Sprintf("unrecognized version %q, expected %q", p.Version, PlanVersion),
			Severity: "error",
		})
	}

	for i, suite := range p.Suites {
		suitePath := fmt.Sprintf("suites[%d]", i)
		if strings.TrimSpace(suite.Name) == "" {
			errs = append(errs, domainErr(suitePath+".name", "suite name must not be empty"))
		}
		errs = append(errs, validateStage(suitePath+".setup", suite.Setup)...)
		errs = append(errs, validateStage(suitePath+".teardown", suite.Teardown)...)
		for j, tc := range suite.Cases {
			casePath := fmt.Sprintf("%s.cases[%d]", suitePath, j)
			if strings.TrimSpace(tc.Name) == "" {
				errs = append(errs, domainErr(casePath+".name", "case name must not be empty"))
			}
			errs = append(errs, validateStage(casePath+".spec", tc.Spec)...)
		}
	}
	return errs
}

// validateStage checks that every stage entry names exactly one directive.
// The case runner re-checks this at dispatch time; flagging it here surfaces
// definition bugs before anything executes.
func validateStage(path string, entries []DirectiveEntry) []*ValidationError {
	var errs []*ValidationError
	for i, entry := range entries {
		if len(entry) != 1 {
			names := make([]string, 0, len(entry))
			for name := range entry {
				names = append(names, name)
			}
			errs = append(errs, domainErr(
				fmt.Sprintf("%s[%d]", path, i),
				fmt.Sprintf("stage entry must name exactly one directive, got %d (%s)", len(entry), strings.Join(names, ", ")),
			))
		}
	}
	return errs
}

func domainErr(path, message string) *ValidationError {
	return &ValidationError{
		Phase:    "domain",
		Path:     path,
		Message:  message,
		Severity: "error",
	}
}
