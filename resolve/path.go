package resolve

import (
	"os"
	"path/filepath"
)

// Resolver finds relative paths under an ordered list of candidate base
// directories.
type Resolver struct {
	// Exists reports whether path exists. If nil, os.Stat is used.
	Exists func(path string) bool
}

func (r Resolver) exists(path string) bool {
	if r.Exists != nil {
		return r.Exists(path)
	}
	_, err := os.Stat(path)
	return err == nil
}

// Path resolves rel against bases.
//
// Absolute paths are returned cleaned. Otherwise the first base containing rel
// wins. When no base contains it, the path under bases[0] (or under fallback
// when bases is empty) is returned unverified; the compiler reports the
// missing file.
func (r Resolver) Path(rel string, bases []string, fallback string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	for _, base := range bases {
		candidate := filepath.Join(base, rel)
		if r.exists(candidate) {
			return candidate
		}
	}
	if len(bases) > 0 {
		return filepath.Join(bases[0], rel)
	}
	return filepath.Join(fallback, rel)
}

// Sources resolves each source path, deduplicating the results in order.
func (r Resolver) Sources(rels, bases []string) []string {
	var out []string
	seen := make(map[string]bool, len(rels))
	for _, rel := range rels {
		p := r.Path(rel, bases, "")
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Includes returns the existing standard include directories followed by the
// resolved include directories that exist, deduplicated in order.
func (r Resolver) Includes(rels, bases, standard []string) []string {
	var out []string
	seen := make(map[string]bool, len(rels)+len(standard))
	add := func(p string) {
		if p == "" || seen[p] || !r.exists(p) {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, dir := range standard {
		add(filepath.Clean(dir))
	}
	for _, rel := range rels {
		add(r.Path(rel, bases, ""))
	}
	return out
}
