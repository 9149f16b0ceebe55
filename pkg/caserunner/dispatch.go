package caserunner

import "fmt"

// handlerFunc is the uniform calling convention for declarative directive
// handlers: flat positional arguments plus keyword parameters, as produced
// by the directive's argument adapter.
type handlerFunc func(args []any, kwargs map[string]any) error

// adapterFunc converts a directive's declarative argument block into flat
// call arguments. Returning (nil, nil) means the directive is purely
// declarative and the handler must not be called.
type adapterFunc func(block any) (*callArgs, error)

// callArgs is the flattened argument form a handler is invoked with.
type callArgs struct {
	args   []any
	kwargs map[string]any
}

// dispatchEntry is the tagged variant behind each directive name: the value
// exposed directly as a symbol (the adapter-less instance embedded code
// calls), the declarative handler, and its argument adapter. A nil adapter
// marks a code-only directive.
type dispatchEntry struct {
	value   any
	handler handlerFunc
	adapt   adapterFunc
}

// register binds a directive name to its code-visible value, declarative
// handler and argument adapter, and seeds the symbol table with the value.
func (c *Case) register(name string, value any, handler handlerFunc, adapt adapterFunc) {
	c.dispatch[name] = dispatchEntry{value: value, handler: handler, adapt: adapt}
	c.symbols[name] = value
}

// registerValue binds a plain value: visible as a symbol from embedded
// code, never usable as a declarative directive.
func (c *Case) registerValue(name string, value any) {
	c.register(name, value, nil, nil)
}

// registerCodeOnly binds a directive reachable only from embedded code.
func (c *Case) registerCodeOnly(name string, value any) {
	c.register(name, value, nil, nil)
}

// resolve looks up a directive by name.
func (c *Case) resolve(name string) (dispatchEntry, error) {
	entry, ok := c.dispatch[name]
	if !ok {
		return dispatchEntry{}, &UnknownDirectiveError{Name: name}
	}
	return entry, nil
}

// invokeDirective adapts the declarative argument block and calls the
// handler, unless the adapter signals a purely declarative directive.
func (c *Case) invokeDirective(name string, block any) error {
	entry, err := c.resolve(name)
	if err != nil {
		return err
	}
	if entry.adapt == nil {
		return configErrorf("directive only available inside a code directive: %s", name)
	}

	ca, err := entry.adapt(block)
	if err != nil {
		return err
	}
	if ca == nil {
		// The adapter already did the work (assignment-style directive).
		return nil
	}

	kwargs := ca.kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return entry.handler(ca.args, kwargs)
}

// runSegment executes one stage entry: a mapping from exactly one directive
// name to its argument block.
func (c *Case) runSegment(entry map[string]any) error {
	if len(entry) > 1 {
		names := make([]string, 0, len(entry))
		for name := range entry {
			names = append(names, name)
		}
		return configErrorf("stage entry must name exactly one directive, got %d: %v", len(entry), names)
	}
	for name, block := range entry {
		if err := c.invokeDirective(name, block); err != nil {
			return err
		}
	}
	return nil
}

// stringify renders an argument-block scalar as a string.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
