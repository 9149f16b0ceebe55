package caserunner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// execute runs an embedded code block against the symbol table as its only
// visible bindings. The block is line-oriented: each non-empty line is
// either an assignment (name = expression, stored back into the symbol
// table) or a bare expression, typically a call to one of the directive
// functions. Any evaluation fault propagates as an uncaught fault, the same
// path as any other directive.
func (c *Case) execute(block string) error {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if name, rhs, ok := splitAssignment(line); ok {
			value, err := c.evalExpr(rhs)
			if err != nil {
				return err
			}
			c.setSymbol(name, value)
			continue
		}

		if _, err := c.evalExpr(line); err != nil {
			return err
		}
	}
	return nil
}

// evalExpr compiles and runs one expression with the symbol table as its
// environment. Control-flow errors raised by directive functions called
// from inside the expression are recovered from the case's codeErr slot, so
// classification does not depend on how the expression engine wraps them.
func (c *Case) evalExpr(src string) (any, error) {
	c.codeErr = nil

	program, err := expr.Compile(src, expr.Env(c.symbols), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile code %q: %w", src, err)
	}

	out, err := expr.Run(program, c.symbols)
	if cerr := c.codeErr; cerr != nil {
		c.codeErr = nil
		return out, cerr
	}
	if err != nil {
		if errors.Is(err, errStageAbort) {
			return out, errStageAbort
		}
		return out, fmt.Errorf("eval code %q: %w", src, err)
	}
	return out, nil
}

// splitAssignment recognizes `name = expression` lines, rejecting the
// comparison operators ==, !=, <=, >= so they stay expressions.
func splitAssignment(line string) (name, rhs string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx <= 0 || idx == len(line)-1 {
		return "", "", false
	}
	if line[idx+1] == '=' {
		return "", "", false
	}
	switch line[idx-1] {
	case '!', '<', '>':
		return "", "", false
	}

	name = strings.TrimSpace(line[:idx])
	if !isIdentifier(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(line[idx+1:]), true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		digit := r >= '0' && r <= '9'
		if i == 0 && !alpha {
			return false
		}
		if !alpha && !digit {
			return false
		}
	}
	return true
}
