package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

// fakeExec re-executes the test binary as TestHelperProcess instead of the
// real compiler. Tests using it must not run in parallel.
func fakeExec(t *testing.T) {
	t.Helper()
	orig := execCommandContext
	execCommandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "XINUSIM_WANT_HELPER_PROCESS=1")
		return cmd
	}
	t.Cleanup(func() { execCommandContext = orig })
}

// TestHelperProcess plays the compiler or simulation for fakeExec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("XINUSIM_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	joined := strings.Join(args, " ")

	code := 0
	switch {
	case strings.Contains(joined, "bad.c"):
		fmt.Fprintln(os.Stderr, "bad.c: In function 'main':")
		fmt.Fprintln(os.Stderr, "bad.c:3:5: error: 'x' undeclared")
		fmt.Fprintln(os.Stderr, "bad.c:4:1: Warning: unused variable")
		code = 1
	case strings.Contains(joined, "warn.c"):
		fmt.Fprintln(os.Stderr, "warn.c:1:1: warning: implicit declaration")
	}
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "exit="); ok {
			code, _ = strconv.Atoi(v)
		}
		if v, ok := strings.CutPrefix(a, "say="); ok {
			fmt.Fprint(os.Stdout, v)
		}
	}
	os.Exit(code)
}

func TestNew(t *testing.T) {
	t.Parallel()

	tc, err := New(`ccache "gcc-13"`)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if want := []string{"ccache", "gcc-13"}; !reflect.DeepEqual(tc.CC, want) {
		t.Fatalf("CC: got %#v want %#v", tc.CC, want)
	}
	if _, err := New("  "); err == nil {
		t.Fatalf("New(blank) expected error, got nil")
	}
	if _, err := New(`gcc "unterminated`); err == nil {
		t.Fatalf("New(unterminated quote) expected error, got nil")
	}
}

func TestArgs(t *testing.T) {
	t.Parallel()

	tc := &Toolchain{CC: []string{"gcc"}}
	got := tc.CompileArgs("/x/main.c", "/o/main.o", []string{"/inc", "/out"}, []string{"-Wall", "-g"})
	want := []string{"gcc", "-c", "/x/main.c", "-I/inc", "-I/out", "-Wall", "-g", "-o", "/o/main.o"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CompileArgs: got %#v want %#v", got, want)
	}

	got = tc.LinkArgs([]string{"a.o", "b.o"}, "xinu_core", []string{"-lm"})
	want = []string{"gcc", "a.o", "b.o", "-o", "xinu_core", "-lm"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LinkArgs: got %#v want %#v", got, want)
	}
}

func TestParseDiagnostics(t *testing.T) {
	t.Parallel()

	in := "main.c: In function 'main':\r\nmain.c:3:5: error: bad\nmain.c:4:1: WARNING: meh\nld: fatal Error: x\nnote: fine\n"
	got := ParseDiagnostics(in)
	want := []Diagnostic{
		{Kind: KindError, Line: "main.c:3:5: error: bad"},
		{Kind: KindWarning, Line: "main.c:4:1: WARNING: meh"},
		{Kind: KindError, Line: "ld: fatal Error: x"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseDiagnostics: got %#v want %#v", got, want)
	}
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	var ws Warnings
	if !ws.Add("a.c:1: warning: x") {
		t.Fatalf("first Add should be new")
	}
	if ws.Add("  a.c:1: warning: x ") {
		t.Fatalf("repeated Add should not be new")
	}
	ws.Add("b.c:1: warning: y")
	if ws.Len() != 2 {
		t.Fatalf("Len: got %d want 2", ws.Len())
	}
}

func TestCompile(t *testing.T) {
	fakeExec(t)

	tc := &Toolchain{CC: []string{"gcc"}}
	ctx := context.Background()

	res, err := tc.Compile(ctx, "bad.c", "bad.o", nil, []string{"-Wall"})
	if err != nil {
		t.Fatalf("Compile(bad.c) error: %v", err)
	}
	if res.ExitCode != 1 || res.Errors() != 1 || len(res.Diagnostics) != 2 {
		t.Fatalf("Compile(bad.c): got %#v", res)
	}
	if want := "gcc -c bad.c -Wall -o bad.o"; res.Command != want {
		t.Fatalf("Command: got %q want %q", res.Command, want)
	}

	res, err = tc.Compile(ctx, "warn.c", "warn.o", nil, nil)
	if err != nil {
		t.Fatalf("Compile(warn.c) error: %v", err)
	}
	if res.ExitCode != 0 || res.Errors() != 0 || len(res.Diagnostics) != 1 {
		t.Fatalf("Compile(warn.c): got %#v", res)
	}

	if _, err := tc.Link(ctx, nil, "out", nil); err == nil {
		t.Fatalf("Link(no objects) expected error, got nil")
	}
	res, err = tc.Link(ctx, []string{"a.o"}, "out", []string{"-lm"})
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("Link: got %#v, %v", res, err)
	}
}

func TestRun(t *testing.T) {
	fakeExec(t)

	var stdout bytes.Buffer
	code, err := Run(context.Background(), "xinu_core", []string{"say=hello", "exit=3"}, nil, &stdout, &bytes.Buffer{})
	if err == nil {
		t.Fatalf("Run() expected error for non-zero exit, got nil")
	}
	if code != 3 {
		t.Fatalf("exit code: got %d want 3", code)
	}
	if got := stdout.String(); got != "hello" {
		t.Fatalf("stdout: got %q want %q", got, "hello")
	}

	code, err = Run(context.Background(), "xinu_core", nil, nil, &stdout, &bytes.Buffer{})
	if err != nil || code != 0 {
		t.Fatalf("Run(): got %d, %v", code, err)
	}
}
