package caserunner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/exemplar-tools/exemplar/pkg/environment"
)

// symbolRe matches {name} template references. The empty braces of a
// positional placeholder deliberately do not match.
var symbolRe = regexp.MustCompile(`\{([^}{]+)\}`)

// interpolateSymbols replaces every {name} in msg with resolver(name).
// Broken out for easier testing.
func interpolateSymbols(msg string, resolver func(string) string) string {
	return symbolRe.ReplaceAllStringFunc(msg, func(m string) string {
		return resolver(m[1 : len(m)-1])
	})
}

// formatString renders msg: named {symbol} references are interpolated via
// the environment provider first, then positional {} placeholders are filled
// from args. Named interpolation strictly precedes the positional fill so
// named references are never miscounted as positional slots. When args
// outnumber the {} placeholders, the template is padded with extra ones.
func (c *Case) formatString(msg string, args ...any) string {
	msg = interpolateSymbols(msg, c.env.ResolveSymbol)
	if len(args) == 0 {
		return msg
	}

	if missing := len(args) - strings.Count(msg, "{}"); missing > 0 {
		msg += ": " + strings.Repeat("{} ", missing)
	}
	// Placeholders left over when args run out are filled with empty text
	// rather than raising.
	return fillPlaceholders(msg, args, true)
}

// formatPositional fills {} placeholders from args, left to right. Extra
// placeholders stay in place.
func formatPositional(msg string, args ...any) string {
	return fillPlaceholders(msg, args, false)
}

// fillPlaceholders scans the template once, so braces inside substituted
// argument values are never treated as placeholders themselves.
func fillPlaceholders(msg string, args []any, blankExtra bool) string {
	parts := strings.Split(msg, "{}")
	var sb strings.Builder
	for i, p := range parts {
		sb.WriteString(p)
		if i == len(parts)-1 {
			break
		}
		if i < len(args) {
			sb.WriteString(fmt.Sprint(args[i]))
		} else if !blankExtra {
			sb.WriteString("{}")
		}
	}
	return sb.String()
}

// setSymbol binds name to value in the case's symbol table; last write wins.
func (c *Case) setSymbol(name string, value any) {
	c.symbols[name] = value
}

// getSymbol returns the current binding, nil when absent.
func (c *Case) getSymbol(name string) any {
	return c.symbols[name]
}

// lookupLiteralOrVariable resolves a bare token: the value of the symbol
// with that name if one exists, otherwise the token itself as a quoted
// literal.
func (c *Case) lookupLiteralOrVariable(token string) any {
	if v, ok := c.symbols[token]; ok {
		return v
	}
	return fmt.Sprintf("%q", token)
}

// getVariableOrLiteral resolves a single-key mapping with key "variable"
// (symbol lookup) or "literal" (value as-is).
func (c *Case) getVariableOrLiteral(entry any) (any, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return nil, configErrorf(`expected a mapping with one of "variable", "literal", got %v`, entry)
	}
	if len(m) > 1 {
		return nil, configErrorf(`expected each element to contain only one of "variable", "literal", but got %v`, m)
	}
	for kind, item := range m {
		switch kind {
		case "variable":
			name := stringify(item)
			v, ok := c.symbols[name]
			if !ok {
				return nil, fmt.Errorf("unknown variable %q", name)
			}
			return v, nil
		case "literal":
			return item, nil
		default:
			return nil, configErrorf(`expected "variable" or "literal", got %q: %v`, kind, item)
		}
	}
	return nil, configErrorf(`expected a mapping with one of "variable", "literal", got an empty mapping`)
}

// getYamlValues resolves a list of variable-or-literal entries.
func (c *Case) getYamlValues(list []any) ([]any, error) {
	values := make([]any, 0, len(list))
	for _, entry := range list {
		v, err := c.getVariableOrLiteral(entry)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Argument adapters: translate the declarative argument block of each
// directive into flat call arguments, or perform the assignment themselves
// and signal "do not call".

// yamlArgsString interprets the block as a list whose first element is a
// message template and whose remaining elements are symbol names or string
// literals, resolved through the symbol table.
func (c *Case) yamlArgsString(block any) (*callArgs, error) {
	if block == nil {
		return &callArgs{}, nil
	}
	parts, ok := block.([]any)
	if !ok {
		return nil, configErrorf("expected a list of message parts, got %v", block)
	}
	if len(parts) == 0 {
		return &callArgs{}, nil
	}
	args := []any{stringify(parts[0])}
	for _, p := range parts[1:] {
		args = append(args, c.lookupLiteralOrVariable(stringify(p)))
	}
	return &callArgs{args: args}, nil
}

// yamlGetUUID binds a fresh UUID to the named variable. Purely declarative.
func (c *Case) yamlGetUUID(block any) (*callArgs, error) {
	name, ok := block.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, configErrorf("uuid requires a variable name, got %v", block)
	}
	c.setSymbol(name, c.getUUID())
	return nil, nil
}

// yamlGetEnv binds an environment variable's value to a symbol. Purely
// declarative. Block shape: {variable: <symbol>, name: <env var>}.
func (c *Case) yamlGetEnv(block any) (*callArgs, error) {
	m, ok := block.(map[string]any)
	if !ok {
		return nil, configErrorf(`env requires a mapping with "variable" and "name", got %v`, block)
	}
	variable, okVar := m["variable"]
	name, okName := m["name"]
	if !okVar || !okName {
		return nil, configErrorf(`env needs both "name" and "variable"`)
	}
	value, err := c.getEnv(stringify(name))
	if err != nil {
		return nil, err
	}
	c.setSymbol(stringify(variable), value)
	return nil, nil
}

// yamlExtractMatch translates the extract_match block into positional
// arguments; validation of the pattern/variable/groups combination belongs
// to the handler.
func (c *Case) yamlExtractMatch(block any) (*callArgs, error) {
	m, ok := block.(map[string]any)
	if !ok {
		return nil, configErrorf(`extract_match requires a mapping, got %v`, block)
	}
	return &callArgs{args: []any{m["pattern"], m["variable"], m["groups"]}}, nil
}

// extractMatchArgs unpacks the adapter's positional form.
func extractMatchArgs(args []any) (pattern, variable string, groups []string, err error) {
	if len(args) != 3 {
		return "", "", nil, configErrorf("extract_match expects pattern, variable, groups")
	}
	if args[0] != nil {
		pattern = stringify(args[0])
	}
	if args[1] != nil {
		variable = stringify(args[1])
	}
	if args[2] != nil {
		list, ok := args[2].([]any)
		if !ok {
			return "", "", nil, configErrorf("extract_match groups must be a list of names, got %v", args[2])
		}
		for _, g := range list {
			groups = append(groups, stringify(g))
		}
	}
	return pattern, variable, groups, nil
}

// paramsForCall translates a call/call_may_fail block. The target field name
// is configurable through the environment's settings; "args" is an ordered
// list and "params" a mapping, both of variable-or-literal entries.
func (c *Case) paramsForCall(block any) (*callArgs, error) {
	parts, ok := block.(map[string]any)
	if !ok {
		return nil, configErrorf("call requires a mapping argument block, got %v", block)
	}

	targetKey := "target"
	if settings := c.env.Settings(); settings != nil {
		if k, ok := settings[environment.SettingCallTarget]; ok && k != "" {
			targetKey = k
		}
	}

	target, ok := parts[targetKey]
	if !ok {
		return nil, configErrorf("when calling artifacts, the block must carry %q: TARGET", targetKey)
	}

	args := []any{stringify(target)}
	kwargs := map[string]any{}
	for key, val := range parts {
		switch key {
		case targetKey:
			// already consumed
		case "params":
			m, ok := val.(map[string]any)
			if !ok {
				return nil, configErrorf(`"params" must be a mapping of name to variable-or-literal entries`)
			}
			for name, entry := range m {
				v, err := c.getVariableOrLiteral(entry)
				if err != nil {
					return nil, err
				}
				kwargs[name] = v
			}
		case "args":
			list, ok := val.([]any)
			if !ok {
				return nil, configErrorf(`"args" must be a list of variable-or-literal entries`)
			}
			values, err := c.getYamlValues(list)
			if err != nil {
				return nil, err
			}
			args = append(args, values...)
		default:
			return nil, configErrorf("unknown argument to function call %q", key)
		}
	}
	return &callArgs{args: args, kwargs: kwargs}, nil
}

// paramsForContains translates a containment-check block: a list whose
// optional first element carries a custom message, followed by the
// variable-or-literal values to test. Matching is case-insensitive; the
// kwargs shape leaves room for a case_sensitive switch.
func (c *Case) paramsForContains(block any) (*callArgs, error) {
	parts, ok := block.([]any)
	if !ok {
		return nil, configErrorf("containment checks require a list of values, got %v", block)
	}
	if len(parts) == 0 {
		return nil, configErrorf("containment checks require at least one value")
	}

	message := ""
	start := 0
	if first, ok := parts[0].(map[string]any); ok {
		if m, ok := first[keyContainsMessage]; ok {
			message = stringify(m)
			start = 1
		}
	}

	values, err := c.getYamlValues(parts[start:])
	if err != nil {
		return nil, err
	}
	return &callArgs{
		args: values,
		kwargs: map[string]any{
			"case_sensitive":   false,
			keyContainsMessage: message,
		},
	}, nil
}
