// Package scan discovers XINU C sources by walking the source tree. It is the
// fallback when no usable Makefile exists.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Sources walks each existing directory in dirs, in order, and returns the .c
// files beneath it in lexical walk order. Missing directories are skipped.
// A file reachable from two dirs is listed once.
func Sources(dirs []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".c") {
				return nil
			}
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return out, errors.Wrapf(err, "scan %q", dir)
		}
	}
	return out, nil
}
