// Package makefile extracts build facts from a XINU compile/Makefile.
//
// This is pattern matching over a narrow subset of Makefile syntax, not a make
// grammar. Supported syntax:
//   - Assignment lines:       NAME = value
//   - Dependency rule lines:  target.o : source.c
//   - References anywhere in a value: $(NAME) or ${NAME}
//   - Backslash line continuation.
//   - '#' comments (whole line or trailing).
//
// Deliberate non-features:
//   - No +=, :=, ?= (those lines are ignored).
//   - No conditionals, include directives, functions, or pattern rules.
//   - Recipe lines (tab-prefixed) are skipped.
//
// Parsing returns raw values; Facts.Expand is the separate expansion pass.
package makefile

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/stevegt/xinusim/expand"
)

// ErrUnavailable reports that the Makefile could not be read. Callers fall back
// to scanning the source tree.
var ErrUnavailable = errors.New("makefile unavailable")

// SourceVars are the list variables whose values name source files, in the
// order they are collected.
var SourceVars = []string{
	"SRC", "SRCS", "C_FILES",
	"SYSTEM_SRC", "SYSTEM_SRCS",
	"DEVICE_SRC", "DEVICE_SRCS",
	"SHELL_SRC", "SHELL_SRCS",
	"LIB_SRC", "LIB_SRCS",
}

const (
	cflagsVar  = "CFLAGS"
	ldflagsVar = "LDFLAGS"
	includeVar = "INCLUDE"
)

// Facts holds what the extractor found in one Makefile.
type Facts struct {
	// Vars is every NAME = value definition; the last definition wins.
	Vars expand.Vars
	// Sources are source file paths, deduplicated in discovery order.
	Sources []string
	// CFlags and LDFlags are the CFLAGS/LDFLAGS tokens in file order.
	CFlags  []string
	LDFlags []string
	// Includes are include directories from -I flags and INCLUDE.
	Includes []string
}

var (
	assignPattern = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\s*=\s*(.*)$`)
	rulePattern   = regexp.MustCompile(`^\s*[\w/.$(){}-]+\.o\s*:\s*([\w/.$(){}-]+\.c)\b`)
)

type assignment struct {
	name  string
	value string
}

// Load reads and parses the Makefile at path.
//
// It never panics and always returns non-nil Facts. On failure the Facts are
// empty and the error wraps ErrUnavailable.
func Load(path string) (*Facts, error) {
	f, err := os.Open(path)
	if err != nil {
		return &Facts{Vars: expand.Vars{}}, errors.Wrapf(ErrUnavailable, "open %q: %v", path, err)
	}
	defer f.Close()

	facts, err := Parse(f)
	if err != nil {
		return &Facts{Vars: expand.Vars{}}, errors.Wrapf(ErrUnavailable, "%s: %v", path, err)
	}
	return facts, nil
}

// Parse extracts raw facts from Makefile text.
func Parse(r io.Reader) (*Facts, error) {
	lines, err := logicalLines(r)
	if err != nil {
		return nil, err
	}

	facts := &Facts{Vars: expand.Vars{}}
	var assigns []assignment
	var ruleSources []string

	for _, line := range lines {
		if m := assignPattern.FindStringSubmatch(line); m != nil {
			a := assignment{name: m[1], value: strings.TrimSpace(m[2])}
			assigns = append(assigns, a)
			facts.Vars[a.name] = a.value
			continue
		}
		if m := rulePattern.FindStringSubmatch(line); m != nil {
			ruleSources = append(ruleSources, m[1])
		}
	}

	for _, name := range SourceVars {
		for _, a := range assigns {
			if a.name == name {
				facts.Sources = appendUnique(facts.Sources, strings.Fields(a.value)...)
			}
		}
	}
	facts.Sources = appendUnique(facts.Sources, ruleSources...)

	for _, a := range assigns {
		switch a.name {
		case cflagsVar:
			facts.CFlags = append(facts.CFlags, strings.Fields(a.value)...)
		case ldflagsVar:
			facts.LDFlags = append(facts.LDFlags, strings.Fields(a.value)...)
		}
	}

	facts.Includes = appendUnique(facts.Includes, IncludeDirs(facts.CFlags)...)
	for _, a := range assigns {
		if a.name != includeVar {
			continue
		}
		for _, tok := range strings.Fields(a.value) {
			if dir := strings.TrimPrefix(tok, "-I"); dir != "" {
				facts.Includes = appendUnique(facts.Includes, dir)
			}
		}
	}
	return facts, nil
}

// IncludeDirs returns the directories named by -Idir or "-I dir" in flags.
func IncludeDirs(flags []string) []string {
	var dirs []string
	for i := 0; i < len(flags); i++ {
		flag := flags[i]
		if !strings.HasPrefix(flag, "-I") {
			continue
		}
		dir := flag[2:]
		if dir == "" && i+1 < len(flags) {
			i++
			dir = flags[i]
		}
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Override replaces table entries with command-line NAME=value assignments,
// which take precedence over the Makefile like they do in make.
func (f *Facts) Override(vars map[string]string) {
	if f.Vars == nil {
		f.Vars = expand.Vars{}
	}
	for k, v := range vars {
		f.Vars[k] = v
	}
}

// Expand returns a copy of f with the variable table and every collection
// expanded. Entries that expand to several words are split back into tokens.
func (f *Facts) Expand(opts expand.Options) *Facts {
	out := &Facts{Vars: expand.ExpandAll(f.Vars, opts)}

	// Collections expand against the raw table so each value gets the full
	// depth budget.
	tokens := func(in []string) []string {
		var res []string
		for _, s := range in {
			res = append(res, strings.Fields(expand.Expand(f.Vars, s, opts))...)
		}
		return res
	}

	out.Sources = appendUnique(nil, tokens(f.Sources)...)
	out.CFlags = tokens(f.CFlags)
	out.LDFlags = tokens(f.LDFlags)
	out.Includes = appendUnique(nil, tokens(f.Includes)...)
	return out
}

// logicalLines reads r, joins backslash-continued lines, and drops comments,
// blank lines, and recipe lines.
func logicalLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	// Allow long source lists.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	var b strings.Builder
	continuing := false
	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), "\r")

		if !continuing && strings.HasPrefix(raw, "\t") {
			continue
		}

		part := raw
		if continuing {
			part = strings.TrimLeft(part, " \t")
		}
		cont := strings.HasSuffix(part, "\\") && !strings.HasSuffix(part, "\\\\")
		if cont {
			part = strings.TrimSuffix(part, "\\")
		}
		if continuing && b.Len() > 0 && part != "" {
			b.WriteByte(' ')
		}
		b.WriteString(part)

		continuing = cont
		if continuing {
			continue
		}
		if line := stripComment(b.String()); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		b.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if b.Len() > 0 {
		if line := stripComment(b.String()); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// stripComment removes an unescaped '#' and everything after it.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if i > 0 && line[i-1] == '\\' {
			continue
		}
		return strings.TrimRight(line[:i], " \t")
	}
	return line
}

// appendUnique appends each value not already present in list.
func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
