// Package resolve turns relative Makefile paths into filesystem paths and
// splits NAME=value variable overrides from command-line arguments.
package resolve

import "strings"

// Partition splits command-line arguments into variable overrides
// (NAME=value) and everything else, preserving relative order in each.
func Partition(tokens []string) (tuples, rest []string) {
	for _, tok := range tokens {
		if _, _, ok := SplitTuple(tok); ok {
			tuples = append(tuples, tok)
			continue
		}
		rest = append(rest, tok)
	}
	return tuples, rest
}

// Overrides converts NAME=value tuples into a map. Later tuples win.
func Overrides(tuples []string) map[string]string {
	out := make(map[string]string, len(tuples))
	for _, t := range tuples {
		if k, v, ok := SplitTuple(t); ok {
			out[k] = v
		}
	}
	return out
}

// SplitTuple splits a token of the form NAME=value.
//
// NAME uses the same character set the Makefile extractor accepts for
// variable names ([A-Za-z0-9_]+). It returns ok=false otherwise, so
// simulation arguments such as "--mode=fast" are not mistaken for overrides.
func SplitTuple(token string) (name, value string, ok bool) {
	name, value, found := strings.Cut(token, "=")
	if !found || !isVarName(name) {
		return "", "", false
	}
	return name, value, true
}

func isVarName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}
