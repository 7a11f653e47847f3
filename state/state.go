// Package state manages xinusim's on-disk output: directories, atomic writes,
// the build lock, cleaning, and the identity stamped into generated files.
package state

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/stevegt/envi"
)

// LockName is the lock file created in the output directory while a build
// runs.
const LockName = ".xinusim.lock"

// OutputPatterns are the generated and build files removed from the output
// directory by Clean.
var OutputPatterns = []string{
	"*.o", "*.obj",
	"xinu_core", "xinu_core.exe",
	"xinu_*.h", "xinu_*.c",
	"base_types.h",
	"circular_includes_error.txt",
	"compilation.txt",
	"compilation_summary.txt",
}

// IncludePatterns are the generated headers removed from the XINU include
// directory by Clean.
var IncludePatterns = []string{"xinu_*.h", "base_types.h"}

// Stamp identifies who ran a build and when. It is captured once per
// invocation and passed to everything that records it.
type Stamp struct {
	User string
	Time time.Time
}

// CurrentStamp returns a Stamp for now, taking the user from USER or USERNAME.
func CurrentStamp(now time.Time) Stamp {
	user := envi.String("USER", "")
	if user == "" {
		user = envi.String("USERNAME", "unknown")
	}
	return Stamp{User: user, Time: now}
}

// String formats the stamp as "2006-01-02 15:04:05".
func (s Stamp) String() string {
	return s.Time.Format("2006-01-02 15:04:05")
}

// EnsureDir ensures a directory exists with safe permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// EnsureParentDir ensures path's parent directory exists.
func EnsureParentDir(path string) error {
	return EnsureDir(filepath.Dir(path))
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureParentDir(path); err != nil {
		return errors.Wrapf(err, "create parent of %q", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrapf(err, "write %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "rename %q", tmp)
	}
	return nil
}

// LockPath returns the build lock path for an output directory.
func LockPath(outputDir string) string {
	return filepath.Join(outputDir, LockName)
}

// Clean removes generated files and objects and returns the removed paths in
// sorted order. Missing directories are not an error.
func Clean(outputDir, objDir, includeDir string) ([]string, error) {
	var removed []string

	remove := func(dir string, patterns []string, recursive bool) error {
		files, err := FindFiles(dir, patterns, recursive)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "remove %q", f)
			}
			removed = append(removed, f)
		}
		return nil
	}

	if err := remove(outputDir, OutputPatterns, false); err != nil {
		return removed, err
	}
	if err := remove(objDir, []string{"*.o"}, true); err != nil {
		return removed, err
	}
	if includeDir != "" {
		if err := remove(includeDir, IncludePatterns, false); err != nil {
			return removed, err
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// FindFiles returns the regular files in dir whose names match any pattern.
// With recursive set, subdirectories are searched too.
func FindFiles(dir string, patterns []string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "stat %q", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", dir)
	}

	var out []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		for _, p := range patterns {
			if MatchPattern(d.Name(), p) {
				out = append(out, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %q", dir)
	}
	return out, nil
}

// MatchPattern reports whether the base name matches a filepath.Match
// pattern. Malformed patterns match nothing.
func MatchPattern(name, pattern string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
