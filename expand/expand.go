// Package expand implements Makefile-style variable expansion for xinusim.
//
// Expansion is purely textual:
//   - $(NAME) and ${NAME} are replaced by NAME's definition, recursively.
//   - Unknown names are left as-is.
//
// Termination is guaranteed by a maximum recursion depth rather than by cycle
// detection. When the depth runs out the partially expanded string is
// returned; this is a degraded result, not an error. Options.DetectCycles adds
// exact cycle detection on top of the depth bound.
package expand

import (
	"regexp"
	"strings"
)

// DefaultMaxDepth is the recursion bound used when Options.MaxDepth is zero.
const DefaultMaxDepth = 10

// Vars maps a variable name to its raw, unexpanded definition.
type Vars map[string]string

// Options controls expansion guardrails.
type Options struct {
	// MaxDepth limits recursive expansion depth. If zero, DefaultMaxDepth is used.
	MaxDepth int

	// DetectCycles leaves a reference literal as soon as it re-enters a name
	// that is already being expanded.
	DetectCycles bool

	// OnDepthExceeded, if set, is called with the partial value each time the
	// depth bound stops an expansion.
	OnDepthExceeded func(value string)
}

var refPattern = regexp.MustCompile(`\$(?:\(([A-Za-z0-9_]+)\)|\{([A-Za-z0-9_]+)\})`)

// HasRefs reports whether value still contains a $(NAME) or ${NAME} token.
func HasRefs(value string) bool {
	return refPattern.MatchString(value)
}

// Expand expands every variable reference in value using vars.
func Expand(vars Vars, value string, opts Options) string {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	e := expander{vars: vars, opts: opts}
	if opts.DetectCycles {
		e.active = make(map[string]bool)
	}
	return e.expand(value, depth)
}

// ExpandAll returns a new table with every definition expanded against the
// raw table. The input is not modified.
func ExpandAll(vars Vars, opts Options) Vars {
	out := make(Vars, len(vars))
	for name, value := range vars {
		out[name] = Expand(vars, value, opts)
	}
	return out
}

type expander struct {
	vars   Vars
	opts   Options
	active map[string]bool
}

func (e *expander) expand(value string, depth int) string {
	if depth <= 0 {
		if e.opts.OnDepthExceeded != nil {
			e.opts.OnDepthExceeded(value)
		}
		return value
	}

	matches := refPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return value
	}

	// Each distinct name is expanded once and every token in value is replaced
	// in a single pass, so text produced by one expansion is never rescanned
	// at this level.
	done := make(map[string]bool, len(matches))
	var pairs []string
	for _, m := range matches {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if done[name] {
			continue
		}
		done[name] = true

		def, ok := e.vars[name]
		if !ok {
			continue
		}
		if e.active != nil {
			if e.active[name] {
				continue
			}
			e.active[name] = true
		}
		expanded := e.expand(def, depth-1)
		if e.active != nil {
			delete(e.active, name)
		}
		pairs = append(pairs, "$("+name+")", expanded, "${"+name+"}", expanded)
	}
	if len(pairs) == 0 {
		return value
	}
	return strings.NewReplacer(pairs...).Replace(value)
}
