// Package toolchain runs the host C compiler, linker, and the built
// simulation as subprocesses.
package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
)

var execCommandContext = exec.CommandContext

// Kind classifies a diagnostic line.
type Kind int

const (
	KindError Kind = iota
	KindWarning
)

func (k Kind) String() string {
	if k == KindError {
		return "ERROR"
	}
	return "WARNING"
}

// Diagnostic is one error or warning line from compiler output.
type Diagnostic struct {
	Kind Kind
	Line string
}

// Result describes one compiler or linker invocation.
type Result struct {
	// Command is the shell-quoted command line, for logs.
	Command     string
	ExitCode    int
	Diagnostics []Diagnostic
	Stdout      string
}

// Errors counts error diagnostics.
func (r Result) Errors() int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Kind == KindError {
			n++
		}
	}
	return n
}

// Toolchain invokes one C compiler driver for compiling and linking.
type Toolchain struct {
	// CC is the compiler argv prefix, e.g. ["ccache", "gcc"].
	CC []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is the environment; nil means the current process environment.
	Env []string
}

// New splits cc with shell quoting rules so wrappers like "ccache gcc" work.
func New(cc string) (*Toolchain, error) {
	argv, err := shellquote.Split(cc)
	if err != nil {
		return nil, errors.Wrapf(err, "parse compiler %q", cc)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty compiler command")
	}
	return &Toolchain{CC: argv}, nil
}

// Look verifies that the compiler executable is on PATH.
func (t *Toolchain) Look() (string, error) {
	p, err := exec.LookPath(t.CC[0])
	if err != nil {
		return "", errors.Wrapf(err, "compiler %q not found", t.CC[0])
	}
	return p, nil
}

// CompileArgs returns the argv that compiles src into obj.
func (t *Toolchain) CompileArgs(src, obj string, includes, flags []string) []string {
	args := append([]string(nil), t.CC...)
	args = append(args, "-c", src)
	for _, inc := range includes {
		args = append(args, "-I"+inc)
	}
	args = append(args, flags...)
	return append(args, "-o", obj)
}

// LinkArgs returns the argv that links objs into out.
func (t *Toolchain) LinkArgs(objs []string, out string, ldflags []string) []string {
	args := append([]string(nil), t.CC...)
	args = append(args, objs...)
	args = append(args, "-o", out)
	return append(args, ldflags...)
}

// Compile compiles src into obj.
//
// A non-zero compiler exit is reported through Result.ExitCode, not err; err
// is set only when the compiler could not be run.
func (t *Toolchain) Compile(ctx context.Context, src, obj string, includes, flags []string) (Result, error) {
	return t.run(ctx, t.CompileArgs(src, obj, includes, flags))
}

// Link links objs into the executable out.
func (t *Toolchain) Link(ctx context.Context, objs []string, out string, ldflags []string) (Result, error) {
	if len(objs) == 0 {
		return Result{}, errors.New("no object files to link")
	}
	return t.run(ctx, t.LinkArgs(objs, out, ldflags))
}

func (t *Toolchain) run(ctx context.Context, argv []string) (Result, error) {
	res := Result{Command: shellquote.Join(argv...)}

	cmd := execCommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = t.Dir
	if t.Env != nil {
		cmd.Env = t.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Diagnostics = ParseDiagnostics(stderr.String())
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		res.ExitCode = 1
		return res, errors.Wrapf(err, "run %s", argv[0])
	}
	return res, nil
}

// ParseDiagnostics picks the error and warning lines out of compiler stderr.
// Matching is case-insensitive on "error:" and "warning:".
func ParseDiagnostics(stderr string) []Diagnostic {
	var out []Diagnostic
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error:"):
			out = append(out, Diagnostic{Kind: KindError, Line: line})
		case strings.Contains(lower, "warning:"):
			out = append(out, Diagnostic{Kind: KindWarning, Line: line})
		}
	}
	return out
}

// Warnings remembers warning lines already reported during a build.
type Warnings struct {
	seen  map[string]bool
	order []string
}

// Add records w and reports whether it was new.
func (ws *Warnings) Add(w string) bool {
	key := strings.TrimSpace(w)
	if ws.seen == nil {
		ws.seen = make(map[string]bool)
	}
	if ws.seen[key] {
		return false
	}
	ws.seen[key] = true
	ws.order = append(ws.order, key)
	return true
}

// Len returns the number of unique warnings.
func (ws *Warnings) Len() int {
	return len(ws.order)
}

// Run executes exe with args, wiring the given stdio.
//
// It returns the program's exit code. If the program could not be started,
// exitCode is 1 and err describes the failure.
func Run(ctx context.Context, exe string, args []string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error) {
	cmd := execCommandContext(ctx, exe, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return ee.ExitCode(), err
		}
		return 1, err
	}
	return 0, nil
}
