// Package environment resolves call targets, named symbols and per-suite
// settings for the case runner. Providers are the boundary between the
// execution core and whatever knows where sample artifacts actually live.
package environment

import (
	"fmt"
	"sort"
	"strings"
)

// SettingCallTarget is the settings key naming the directive-argument field
// that identifies a call's target. Defaults to "target".
const SettingCallTarget = "call.target"

// Provider supplies the case runner with everything environment-specific:
// how a named target becomes a command line, what named symbols mean in
// message templates, and per-suite settings.
type Provider interface {
	// ResolveCall turns a call target plus positional args and keyword
	// params into a command line and a working directory. An error means
	// the target could not be resolved; the runner reports it as a call
	// error, distinct from the command itself failing.
	ResolveCall(target string, args []any, params map[string]any) (command string, dir string, err error)

	// ResolveSymbol returns the value for a {name} template reference.
	ResolveSymbol(name string) string

	// Settings exposes per-suite settings; see SettingCallTarget.
	Settings() map[string]string
}

// Base is the zero-configuration provider: the call target is taken as the
// literal command line, args are appended shell-quoted, params become
// --name value flags, and symbols resolve to their own placeholder text.
type Base struct {
	// Dir is the working directory for every call; empty means inherit.
	Dir string
	// Config overrides individual settings.
	Config map[string]string
}

func (b *Base) ResolveCall(target string, args []any, params map[string]any) (string, string, error) {
	if strings.TrimSpace(target) == "" {
		return "", "", fmt.Errorf("empty call target")
	}
	return AppendArgs(target, args, params), b.Dir, nil
}

func (b *Base) ResolveSymbol(name string) string {
	return "{" + name + "}"
}

func (b *Base) Settings() map[string]string {
	return b.Config
}

// AppendArgs extends a command line with positional args (shell-quoted) and
// keyword params (sorted, as --name value flags).
func AppendArgs(command string, args []any, params map[string]any) string {
	var sb strings.Builder
	sb.WriteString(command)
	for _, a := range args {
		sb.WriteString(" ")
		sb.WriteString(ShellQuote(fmt.Sprint(a)))
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(" --")
		sb.WriteString(name)
		sb.WriteString(" ")
		sb.WriteString(ShellQuote(fmt.Sprint(params[name])))
	}
	return sb.String()
}

// ShellQuote single-quotes s for POSIX shells when needed.
func ShellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$`*?[]()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
