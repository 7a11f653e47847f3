// Package filter removes sources and flags that cannot take part in a host
// build of XINU.
package filter

import (
	"path/filepath"
	"strings"
)

// ShimmedFuncs are libxc functions whose sources are excluded because the host
// C library provides them.
var ShimmedFuncs = []string{
	"printf", "fprintf", "sprintf", "scanf", "fscanf", "sscanf",
	"getchar", "putchar", "fgetc", "fgets", "fputc", "fputs",
	"_doprnt", "_doscan", "abs", "labs", "atoi", "atol",
	"rand", "srand", "qsort", "strcpy", "strncpy", "strcat",
	"strncat", "strcmp", "strncmp", "strlen", "strnlen",
	"strchr", "strrchr", "strstr", "memcpy", "memmove",
	"memcmp", "memset",
}

// AssemblyExts are source extensions the C compile path cannot build.
var AssemblyExts = []string{".S", ".s", ".asm"}

var (
	// CompilerUnsafePrefixes are dropped from Makefile CFLAGS. Include dirs are
	// resolved separately, so -I is dropped too.
	CompilerUnsafePrefixes = []string{"-I", "-m", "-f", "-W", "--target="}

	// CompilerDefaults are appended to CFLAGS. -fno-builtin matters because
	// XINU defines its own versions of standard library functions.
	CompilerDefaults = []string{"-Wall", "-g", "-O0", "-fno-builtin"}

	LinkerUnsafePrefixes = []string{"-m", "-z", "--target="}
	LinkerDefaults       = []string{"-lm"}

	// SeparateArgFlags take their value as the following token when written
	// alone.
	SeparateArgFlags = []string{"-I"}
)

// Set builds a lookup set from names.
func Set(names []string) map[string]bool {
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// Sources drops assembly files, and files whose name without extension is in
// exclude and whose directory is exactly excludedDir. A same-named file in any
// other directory is kept. Order is preserved.
func Sources(paths []string, exclude map[string]bool, excludedDir string) (kept, dropped []string) {
	excludedDir = filepath.Clean(excludedDir)
	for _, p := range paths {
		if IsAssembly(p) {
			dropped = append(dropped, p)
			continue
		}
		base := filepath.Base(p)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if exclude[stem] && filepath.Dir(p) == excludedDir {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}
	return kept, dropped
}

// IsAssembly reports whether path has an assembly source extension.
func IsAssembly(path string) bool {
	ext := filepath.Ext(path)
	for _, a := range AssemblyExts {
		if ext == a {
			return true
		}
	}
	return false
}

// Flags drops every token starting with one of unsafePrefixes, then appends
// each default that is not already present.
func Flags(flags, unsafePrefixes, defaults []string) []string {
	out := make([]string, 0, len(flags)+len(defaults))
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if hasAnyPrefix(f, unsafePrefixes) {
			// "-I dir" drops dir too.
			if contains(SeparateArgFlags, f) && i+1 < len(flags) {
				i++
			}
			continue
		}
		out = append(out, f)
	}
	for _, d := range defaults {
		if !contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
