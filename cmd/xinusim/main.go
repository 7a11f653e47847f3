// Command xinusim builds a XINU source tree into a host executable and runs it.
//
// The build reads compile/Makefile for sources and flags (falling back to a
// directory scan), generates wrapper headers and a host main, compiles with
// the host C compiler, and links.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/repr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stevegt/envi"

	"github.com/stevegt/xinusim/build"
	"github.com/stevegt/xinusim/buildlog"
	"github.com/stevegt/xinusim/config"
	"github.com/stevegt/xinusim/resolve"
	"github.com/stevegt/xinusim/state"
	"github.com/stevegt/xinusim/toolchain"
)

var timeNow = time.Now

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// run is the CLI entrypoint. It returns an exit code rather than calling
// os.Exit so tests can drive it.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args[1:])
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "xinusim:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "xinusim:", err)
	if isUsageError(err) {
		fmt.Fprintln(stderr, "Run 'xinusim --help' for usage.")
		return 2
	}
	return 1
}

// exitError carries a specific exit code, such as a simulation's own status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

type usageError struct{ error }

func isUsageError(err error) bool {
	var ue usageError
	if errors.As(err, &ue) {
		return true
	}
	// cobra reports unknown subcommands as plain errors.
	return strings.HasPrefix(err.Error(), "unknown command")
}

// cli holds the parsed persistent flags and stdio for one invocation.
type cli struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	directory      string
	outputDir      string
	verbose        bool
	cc             string
	maxExpandDepth int
	errorLimit     int
	strictCycles   bool
	defines        []string
	starvation     int
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xinusim",
		Short:         "Build and run XINU as a host simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&c.directory, "directory", "d", ".", "project root directory")
	pf.StringVarP(&c.outputDir, "output-dir", "o", "", "output directory (default <project>/xinu_sim/output)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&c.cc, "cc", "", "C compiler command (default gcc, or XINUSIM_CC)")
	pf.IntVar(&c.maxExpandDepth, "max-expand-depth", 0, "Makefile variable expansion depth limit (default 10)")
	pf.IntVar(&c.errorLimit, "error-limit", 0, "abort compilation after this many errors (default 20)")
	pf.BoolVar(&c.strictCycles, "strict-cycles", false, "stop expanding a variable that references itself")
	pf.StringArrayVarP(&c.defines, "define", "D", nil, "C preprocessor define NAME[=value] (repeatable)")
	pf.IntVar(&c.starvation, "starvation", 0, "starvation test parameter, passed to XINU as -DSTARVATION=N")

	root.AddCommand(c.buildCmd(), c.planCmd(), c.cleanCmd(), c.runCmd())
	return root
}

func (c *cli) config() (config.Config, error) {
	defines := append([]string(nil), c.defines...)
	if c.starvation > 0 {
		defines = append(defines, "STARVATION="+strconv.Itoa(c.starvation))
	}
	return config.Load(c.directory, config.Overrides{
		OutputDir:      c.outputDir,
		CC:             c.cc,
		Defines:        defines,
		ErrorLimit:     c.errorLimit,
		MaxExpandDepth: c.maxExpandDepth,
		StrictCycles:   c.strictCycles,
		Verbose:        c.verbose,
	})
}

func (c *cli) builder(cfg config.Config, tuples []string) *build.Builder {
	return &build.Builder{
		Config:    cfg,
		Log:       buildlog.New(c.stderr, buildlog.Options{Verbose: cfg.Verbose, Color: colorable(c.stderr)}),
		Overrides: resolve.Overrides(tuples),
	}
}

// splitArgs separates NAME=value tuples before "--" from the simulation
// arguments after it.
func splitArgs(cmd *cobra.Command, args []string) (tuples, simArgs []string, err error) {
	before := args
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		before, simArgs = args[:dash], args[dash:]
	}
	tuples, rest := resolve.Partition(before)
	if len(rest) > 0 {
		return nil, nil, usageError{errors.Errorf("not a NAME=value assignment: %q", rest[0])}
	}
	return tuples, simArgs, nil
}

func (c *cli) buildCmd() *cobra.Command {
	var clean, runAfter, noCompile bool
	cmd := &cobra.Command{
		Use:   "build [NAME=value...] [-- sim-args...]",
		Short: "Generate wrappers, compile, and link the simulation",
		Long: `Generate wrapper files, then compile and link XINU.

NAME=value arguments override Makefile variables, like make. Arguments after
"--" are passed to the simulation when --run is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuples, simArgs, err := splitArgs(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			b := c.builder(cfg, tuples)
			header(b.Log)

			if clean {
				if _, err := b.Clean(); err != nil {
					return err
				}
			}
			if noCompile {
				if _, err := b.Generate(); err != nil {
					return err
				}
				b.Log.Infof("Skipping compilation (--no-compile specified)")
				return nil
			}

			tc, err := toolchain.New(cfg.CC)
			if err != nil {
				return err
			}
			if _, err := tc.Look(); err != nil {
				return err
			}
			b.Toolchain = tc

			exe, err := b.Build(cmd.Context())
			if err != nil {
				b.Log.Errorf("Build failed. Details are in %s", cfg.CompilationLog)
				return err
			}
			b.Log.Successf("Build successful: %s", exe)
			if !runAfter {
				b.Log.Infof("Run the simulation with: %s", exe)
				return nil
			}
			return c.simulate(cmd.Context(), b, simArgs)
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "remove output files before building")
	cmd.Flags().BoolVar(&runAfter, "run", false, "run the simulation after a successful build")
	cmd.Flags().BoolVar(&noCompile, "no-compile", false, "generate wrapper files only")
	return cmd
}

func (c *cli) planCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "plan [NAME=value...]",
		Short: "Print the resolved sources, include dirs, and flags without building",
		RunE: func(cmd *cobra.Command, args []string) error {
			tuples, _, err := splitArgs(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			b := c.builder(cfg, tuples)
			plan, err := b.Plan(cmd.Context())
			if err != nil {
				return err
			}

			if dump {
				repr.New(c.stdout).Println(plan.Facts)
				return nil
			}
			w := c.stdout
			fmt.Fprintf(w, "origin: %s\n", plan.Origin)
			if plan.Reason != "" {
				fmt.Fprintf(w, "reason: %s\n", plan.Reason)
			}
			fmt.Fprintf(w, "makefile: %s\n", cfg.Makefile)
			fmt.Fprintf(w, "executable: %s\n", cfg.Executable)
			printList(w, "sources", plan.Sources)
			printList(w, "dropped", plan.Dropped)
			printList(w, "includes", plan.Includes)
			fmt.Fprintf(w, "cflags: %s\n", strings.Join(plan.CFlags, " "))
			fmt.Fprintf(w, "ldflags: %s\n", strings.Join(plan.LDFlags, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "print the raw Makefile facts instead")
	return cmd
}

func printList(w io.Writer, name string, items []string) {
	fmt.Fprintf(w, "%s:\n", name)
	for _, it := range items {
		fmt.Fprintf(w, "  %s\n", it)
	}
}

func (c *cli) cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove generated files and build output",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			b := c.builder(cfg, nil)
			removed, err := b.Clean()
			if err != nil {
				return err
			}
			b.Log.Infof("Removed %d file(s)", len(removed))
			return nil
		},
	}
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [sim-args...]",
		Short: "Run a previously built simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			return c.simulate(cmd.Context(), c.builder(cfg, nil), args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// simulate runs the executable and turns its exit status into ours.
func (c *cli) simulate(ctx context.Context, b *build.Builder, args []string) error {
	code, err := b.RunSimulation(ctx, args, c.stdin, c.stdout, c.stderr)
	if code == 0 && err == nil {
		return nil
	}
	var ee interface{ ExitCode() int }
	if errors.As(err, &ee) {
		return &exitError{code: code}
	}
	return &exitError{code: code, err: err}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError{errors.Errorf("%s takes no arguments", cmd.Name())}
	}
	return nil
}

func header(lg *buildlog.Logger) {
	stamp := state.CurrentStamp(timeNow())
	lg.Infof("XINU Simulation System build on %s/%s", runtime.GOOS, runtime.GOARCH)
	lg.Verbosef("Date/Time: %s", stamp)
	lg.Verbosef("User: %s", stamp.User)
}

// colorable reports whether w is a terminal that should get ANSI colors.
func colorable(w io.Writer) bool {
	if envi.String("NO_COLOR", "") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
