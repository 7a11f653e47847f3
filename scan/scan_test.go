package scan

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
}

func TestSources(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	system := filepath.Join(root, "system")
	shell := filepath.Join(root, "shell")
	touch(t, filepath.Join(system, "kill.c"))
	touch(t, filepath.Join(system, "initialize.c"))
	touch(t, filepath.Join(system, "intr.S"))
	touch(t, filepath.Join(system, "sub", "deep.c"))
	touch(t, filepath.Join(shell, "shell.c"))
	touch(t, filepath.Join(shell, "README"))

	got, err := Sources([]string{system, filepath.Join(root, "missing"), shell, system})
	if err != nil {
		t.Fatalf("Sources() error: %v", err)
	}
	want := []string{
		filepath.Join(system, "initialize.c"),
		filepath.Join(system, "kill.c"),
		filepath.Join(system, "sub", "deep.c"),
		filepath.Join(shell, "shell.c"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Sources: got %#v want %#v", got, want)
	}
}

func TestSources_NoDirs(t *testing.T) {
	t.Parallel()

	got, err := Sources([]string{filepath.Join(t.TempDir(), "nope")})
	if err != nil {
		t.Fatalf("Sources() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Sources: got %#v want none", got)
	}
}
