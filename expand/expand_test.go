package expand

import (
	"strings"
	"testing"
)

func TestExpand_Recursive(t *testing.T) {
	t.Parallel()

	vars := Vars{
		"TOP":  "../..",
		"INC":  "$(TOP)/include",
		"FLAG": "-I${INC} -DTOP=$(TOP)",
	}

	got := Expand(vars, "$(FLAG)", Options{})
	if want := "-I../../include -DTOP=../.."; got != want {
		t.Fatalf("Expand(): got %q want %q", got, want)
	}
	if HasRefs(got) {
		t.Fatalf("Expand() left references in %q", got)
	}
}

func TestExpand_UnknownNamesRemainLiteral(t *testing.T) {
	t.Parallel()

	vars := Vars{"A": "x"}

	got := Expand(vars, "$(A) $(NOPE) ${NOPE} $(NOPE)", Options{})
	if want := "x $(NOPE) ${NOPE} $(NOPE)"; got != want {
		t.Fatalf("Expand(): got %q want %q", got, want)
	}
}

func TestExpand_Idempotent(t *testing.T) {
	t.Parallel()

	vars := Vars{
		"SRC":  "$(SYS) shell/shell.c",
		"SYS":  "system/main.c system/${KERN}.c",
		"KERN": "resched",
	}

	for _, in := range []string{"$(SRC)", "plain text", "$(SRC) $(MISSING)", ""} {
		once := Expand(vars, in, Options{})
		twice := Expand(vars, once, Options{})
		if once != twice {
			t.Fatalf("Expand(%q) not idempotent: %q then %q", in, once, twice)
		}
	}
}

func TestExpand_CycleTerminates(t *testing.T) {
	t.Parallel()

	vars := Vars{
		"A": "$(B)",
		"B": "$(A)",
	}

	var partial []string
	got := Expand(vars, "$(A)", Options{OnDepthExceeded: func(v string) { partial = append(partial, v) }})
	if !strings.Contains(got, "$(") {
		t.Fatalf("Expand(): got %q want unresolved token", got)
	}
	if len(partial) == 0 {
		t.Fatalf("OnDepthExceeded was not called")
	}
}

func TestExpand_SelfReferenceIsDepthBounded(t *testing.T) {
	t.Parallel()

	vars := Vars{"A": "$(A) x"}

	got := Expand(vars, "$(A)", Options{MaxDepth: 3})
	if want := "$(A) x x x"; got != want {
		t.Fatalf("Expand(): got %q want %q", got, want)
	}
}

func TestExpand_DetectCycles(t *testing.T) {
	t.Parallel()

	vars := Vars{
		"A": "a $(B)",
		"B": "b $(A)",
		"C": "$(D) $(D)",
		"D": "d",
	}

	calls := 0
	opts := Options{DetectCycles: true, OnDepthExceeded: func(string) { calls++ }}

	if got, want := Expand(vars, "$(A)", opts), "a b $(A)"; got != want {
		t.Fatalf("Expand(A): got %q want %q", got, want)
	}
	// A name used twice side by side is not a cycle.
	if got, want := Expand(vars, "$(C)", opts), "d d"; got != want {
		t.Fatalf("Expand(C): got %q want %q", got, want)
	}
	if calls != 0 {
		t.Fatalf("depth bound reached %d times with cycle detection on", calls)
	}
}

func TestExpand_TokensReplacedOnce(t *testing.T) {
	t.Parallel()

	// X runs out of depth and leaves $(Y) behind; the sibling $(Y) in the
	// same value must not rewrite it.
	vars := Vars{
		"X": "$(Y)",
		"Y": "y",
	}
	if got, want := Expand(vars, "$(X) ${Y}", Options{MaxDepth: 1}), "$(Y) y"; got != want {
		t.Fatalf("Expand() with MaxDepth 1: got %q want %q", got, want)
	}

	// With cycle detection, X's expansion leaves $(A) literal where A re-enters
	// itself. The outer $(A) is expanded separately and must not rewrite it.
	vars = Vars{
		"X": "x $(A)",
		"A": "a $(B)",
		"B": "b $(A)",
	}
	opts := Options{DetectCycles: true}
	if got, want := Expand(vars, "$(X) $(A)", opts), "x a b $(A) a b $(A)"; got != want {
		t.Fatalf("Expand() with DetectCycles: got %q want %q", got, want)
	}
}

func TestExpand_MaxDepth(t *testing.T) {
	t.Parallel()

	vars := Vars{
		"A": "$(B)",
		"B": "$(C)",
		"C": "$(D)",
		"D": "$(E)",
		"E": "done",
	}

	if got := Expand(vars, "$(A)", Options{MaxDepth: 3}); got != "$(D)" {
		t.Fatalf("Expand() with MaxDepth 3: got %q want %q", got, "$(D)")
	}
	if got := Expand(vars, "$(A)", Options{}); got != "done" {
		t.Fatalf("Expand() with default depth: got %q want %q", got, "done")
	}
}

func TestExpandAll(t *testing.T) {
	t.Parallel()

	vars := Vars{
		"OBJS": "$(SRCS)",
		"SRCS": "a.c b.c",
	}

	out := ExpandAll(vars, Options{})
	if got, want := out["OBJS"], "a.c b.c"; got != want {
		t.Fatalf("OBJS: got %q want %q", got, want)
	}
	if got, want := vars["OBJS"], "$(SRCS)"; got != want {
		t.Fatalf("input table modified: OBJS = %q", got)
	}
}
