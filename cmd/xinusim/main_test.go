package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
}

// newProject writes a small flat XINU tree and blanks XINUSIM_* settings.
// Tests using it must not run in parallel.
func newProject(t *testing.T) string {
	t.Helper()
	for _, k := range []string{
		"XINUSIM_OUTPUT_DIR", "XINUSIM_CC", "XINUSIM_CFLAGS", "XINUSIM_LDFLAGS",
		"XINUSIM_ERROR_LIMIT", "XINUSIM_MAX_EXPAND_DEPTH", "XINUSIM_VERBOSE",
	} {
		t.Setenv(k, "")
	}
	root := t.TempDir()
	write(t, filepath.Join(root, "include", "xinu.h"), "")
	write(t, filepath.Join(root, "system", "main.c"), "int main(void) { return 0; }\n")
	write(t, filepath.Join(root, "alt", "main.c"), "int main(void) { return 1; }\n")
	write(t, filepath.Join(root, "lib", "libxc", "printf.c"), "")
	write(t, filepath.Join(root, "compile", "Makefile"), `
DIR = ../system
SRCS = $(DIR)/main.c ../lib/libxc/printf.c
CFLAGS = -m32 -DXINU
`)
	return root
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(append([]string{"xinusim"}, args...), strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestPlan(t *testing.T) {
	root := newProject(t)

	code, stdout, stderr := runCLI(t, "-d", root, "-D", "NPROC=8", "--starvation", "3", "plan")
	if code != 0 {
		t.Fatalf("exit code: got %d want 0\nstderr: %s", code, stderr)
	}
	for _, want := range []string{
		"origin: makefile\n",
		"  " + filepath.Join(root, "system", "main.c") + "\n",
		"dropped:\n  " + filepath.Join(root, "lib", "libxc", "printf.c") + "\n",
		"cflags: -DXINU -Wall -g -O0 -fno-builtin -DNPROC=8 -DSTARVATION=3\n",
		"ldflags: -lm\n",
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestPlan_TupleOverride(t *testing.T) {
	root := newProject(t)

	code, stdout, stderr := runCLI(t, "plan", "-d", root, "DIR=../alt")
	if code != 0 {
		t.Fatalf("exit code: got %d want 0\nstderr: %s", code, stderr)
	}
	if want := filepath.Join(root, "alt", "main.c"); !strings.Contains(stdout, want) {
		t.Fatalf("stdout missing %q:\n%s", want, stdout)
	}
}

func TestPlan_Dump(t *testing.T) {
	root := newProject(t)

	code, stdout, stderr := runCLI(t, "plan", "--dump", "-d", root)
	if code != 0 {
		t.Fatalf("exit code: got %d want 0\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Facts{") || !strings.Contains(stdout, "$(DIR)/main.c") {
		t.Fatalf("dump should show raw facts:\n%s", stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	root := newProject(t)

	cases := [][]string{
		{"plan", "-d", root, "not-a-tuple"},
		{"plan", "--no-such-flag"},
		{"frobnicate"},
		{"clean", "-d", root, "extra"},
	}
	for _, args := range cases {
		if code, _, stderr := runCLI(t, args...); code != 2 {
			t.Fatalf("%v: exit code got %d want 2\nstderr: %s", args, code, stderr)
		}
	}
}

func TestBuildNoCompileThenClean(t *testing.T) {
	root := newProject(t)
	out := filepath.Join(root, "out")

	code, _, stderr := runCLI(t, "build", "--no-compile", "-d", root, "-o", out)
	if code != 0 {
		t.Fatalf("build exit code: got %d want 0\nstderr: %s", code, stderr)
	}
	generated := []string{"xinu_stddefs.h", "xinu_includes.h", "xinu_pre.h", "xinu_simulation.c"}
	for _, name := range generated {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("generated %s: %v", name, err)
		}
	}
	if !strings.Contains(stderr, "Skipping compilation") {
		t.Fatalf("stderr missing skip notice:\n%s", stderr)
	}

	code, _, stderr = runCLI(t, "clean", "-d", root, "-o", out)
	if code != 0 {
		t.Fatalf("clean exit code: got %d want 0\nstderr: %s", code, stderr)
	}
	for _, name := range generated {
		if _, err := os.Stat(filepath.Join(out, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "include", "xinu_stddefs.h")); !os.IsNotExist(err) {
		t.Fatalf("include dir copy should be removed: %v", err)
	}
}

func TestRun(t *testing.T) {
	root := newProject(t)

	code, _, stderr := runCLI(t, "run", "-d", root)
	if code != 1 || !strings.Contains(stderr, "executable not found") {
		t.Fatalf("run without build: got %d\nstderr: %s", code, stderr)
	}
	if runtime.GOOS == "windows" {
		return
	}

	exe := filepath.Join(root, "xinu_sim", "output", "xinu_core")
	write(t, exe, "#!/bin/sh\necho \"args: $*\"\nexit 4\n")
	if err := os.Chmod(exe, 0o755); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	code, stdout, stderr := runCLI(t, "-d", root, "run", "one", "--two")
	if code != 4 {
		t.Fatalf("exit code: got %d want 4\nstderr: %s", code, stderr)
	}
	if stdout != "args: one --two\n" {
		t.Fatalf("stdout: got %q", stdout)
	}
}
