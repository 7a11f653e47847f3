// Package build turns a XINU source tree into a host executable: it generates
// the wrapper files, plans the compile from the Makefile (or a directory scan),
// compiles, and links.
package build

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/stevegt/xinusim/buildlog"
	"github.com/stevegt/xinusim/config"
	"github.com/stevegt/xinusim/filter"
	"github.com/stevegt/xinusim/gen"
	"github.com/stevegt/xinusim/makefile"
	"github.com/stevegt/xinusim/resolve"
	"github.com/stevegt/xinusim/scan"
	"github.com/stevegt/xinusim/state"
	"github.com/stevegt/xinusim/toolchain"
)

var (
	ErrNoSources  = errors.New("no source files found to compile")
	ErrCompile    = errors.New("compilation failed")
	ErrErrorLimit = errors.New("error limit reached")
	ErrLink       = errors.New("linking failed")
	ErrNoExe      = errors.New("executable not found")
)

// Origin says where a Plan's source list came from.
type Origin string

const (
	OriginMakefile Origin = "makefile"
	OriginScan     Origin = "scan"
)

// Plan is everything needed to compile and link, with all paths resolved and
// all flags filtered.
type Plan struct {
	Origin Origin
	// Reason explains a scan fallback; empty for OriginMakefile.
	Reason string
	// Facts are the raw Makefile facts, before expansion. Nil when the
	// Makefile could not be read.
	Facts *makefile.Facts

	Sources  []string
	Objects  []string
	Dropped  []string
	Includes []string
	CFlags   []string
	LDFlags  []string

	// Entry is the generated host main; it is compiled without the entry
	// rename applied to XINU sources.
	Entry string
}

// FlagsFor returns the compiler flags for src.
func (p *Plan) FlagsFor(src string) []string {
	if src == p.Entry {
		return p.CFlags
	}
	flags := append([]string(nil), p.CFlags...)
	return append(flags, "-D"+gen.EntryRename)
}

// Builder runs builds for one Config.
type Builder struct {
	Config config.Config
	Log    *buildlog.Logger
	// Toolchain defaults to one built from Config.CC.
	Toolchain *toolchain.Toolchain
	// Overrides are command-line NAME=value Makefile variable assignments.
	Overrides map[string]string
	Resolver  resolve.Resolver
	// Now defaults to time.Now.
	Now func() time.Time
}

func (b *Builder) log() *buildlog.Logger {
	if b.Log == nil {
		b.Log = buildlog.Discard()
	}
	return b.Log
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) toolchain() (*toolchain.Toolchain, error) {
	if b.Toolchain != nil {
		return b.Toolchain, nil
	}
	tc, err := toolchain.New(b.Config.CC)
	if err != nil {
		return nil, err
	}
	b.Toolchain = tc
	return tc, nil
}

// Plan works out what to compile and how.
func (b *Builder) Plan(ctx context.Context) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := b.Config
	lg := b.log()

	p := &Plan{Origin: OriginMakefile}
	var sources, notC, includeRels []string

	facts, err := makefile.Load(cfg.Makefile)
	if err == nil {
		p.Facts = facts
		facts.Override(b.Overrides)
		opts := cfg.ExpandOptions()
		opts.OnDepthExceeded = func(value string) {
			lg.Verbosef("Variable expansion depth %d exceeded in %q", opts.MaxDepth, value)
		}
		expanded := facts.Expand(opts)
		sources, notC = splitC(b.Resolver.Sources(expanded.Sources, cfg.SourceBases()))
		includeRels = expanded.Includes
		p.CFlags = expanded.CFlags
		p.LDFlags = expanded.LDFlags
		if len(sources) == 0 {
			p.Reason = "no source files found in Makefile"
		}
	} else {
		p.Reason = err.Error()
	}

	if p.Reason != "" {
		lg.Infof("Falling back to source scanning: %s", p.Reason)
		p.Origin = OriginScan
		sources, err = scan.Sources(cfg.ScanDirs())
		if err != nil {
			return nil, err
		}
		includeRels, notC = nil, nil
		p.CFlags, p.LDFlags = nil, nil
	} else {
		lg.Infof("Found %d source files defined in %s", len(sources), cfg.Makefile)
	}

	if fileExists(cfg.SimHelperC) {
		if !contains(sources, cfg.SimHelperC) {
			sources = append(sources, cfg.SimHelperC)
		}
		p.Entry = cfg.SimHelperC
	}

	var dropped []string
	p.Sources, dropped = filter.Sources(sources, filter.Set(cfg.Shimmed), cfg.LibxcDir)
	p.Dropped = append(notC, dropped...)
	for _, d := range p.Dropped {
		lg.Verbosef("Skipping %s", d)
	}
	if len(p.Sources) == 0 {
		return p, ErrNoSources
	}
	p.Objects = objectPaths(cfg.ObjDir, p.Sources)

	p.Includes = b.Resolver.Includes(includeRels, cfg.SourceBases(), cfg.StandardIncludes())

	p.CFlags = filter.Flags(p.CFlags, filter.CompilerUnsafePrefixes, filter.CompilerDefaults)
	p.CFlags = append(p.CFlags, cfg.DefineFlags()...)
	p.CFlags = append(p.CFlags, cfg.ExtraCFlags...)

	p.LDFlags = filter.Flags(p.LDFlags, filter.LinkerUnsafePrefixes, filter.LinkerDefaults)
	p.LDFlags = append(p.LDFlags, cfg.ExtraLDFlags...)
	return p, nil
}

// Generate writes the wrapper files without compiling.
func (b *Builder) Generate() ([]string, error) {
	g := gen.Generator{Config: b.Config, Stamp: state.CurrentStamp(b.now())}
	paths, err := g.Generate()
	if err != nil {
		return paths, err
	}
	for _, p := range paths {
		b.log().Verbosef("Generated %s", p)
	}
	return paths, nil
}

// Build generates, compiles, and links, returning the executable path.
func (b *Builder) Build(ctx context.Context) (exe string, err error) {
	cfg := b.Config
	lg := b.log()

	tc, err := b.toolchain()
	if err != nil {
		return "", err
	}

	lock, err := state.LockFile(state.LockPath(cfg.OutputDir))
	if err != nil {
		return "", err
	}
	defer lock.Close()

	stamp := state.CurrentStamp(b.now())
	lg.Infof("Generating XINU simulation wrapper files")
	if _, err := b.Generate(); err != nil {
		return "", err
	}

	if err := lg.OpenFile(cfg.CompilationLog, stamp); err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			lg.Summaryf("FAILED: %v", err)
		}
		if cerr := lg.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close compilation log")
		}
	}()
	lg.Filef("Project directory: %s", cfg.ProjectDir)
	lg.Filef("System directory: %s", cfg.SystemDir)
	lg.Filef("Output directory: %s", cfg.OutputDir)

	plan, err := b.Plan(ctx)
	if err != nil {
		return "", err
	}
	lg.Filef("\n=== Source Files ===")
	for _, src := range plan.Sources {
		lg.Filef("Adding source file: %s", src)
	}

	var warnings toolchain.Warnings
	objs, err := b.compile(ctx, tc, plan, &warnings)
	if err != nil {
		return "", err
	}

	lg.Infof("Linking %d objects to %s", len(objs), cfg.Executable)
	lg.Filef("\n=== Linking ===")
	res, err := tc.Link(ctx, objs, cfg.Executable, plan.LDFlags)
	lg.Filef("Command: %s", res.Command)
	if err != nil {
		return "", err
	}
	n := b.report(res, &warnings)
	if res.ExitCode != 0 || n > 0 {
		return "", errors.Wrapf(ErrLink, "%d error(s), exit status %d", n, res.ExitCode)
	}

	if cfg.GOOS != "windows" {
		if err := os.Chmod(cfg.Executable, 0o755); err != nil {
			return "", errors.Wrapf(err, "chmod %q", cfg.Executable)
		}
	}

	lg.Summaryf("SUCCESS: Build completed with 0 errors and %d unique warning(s).", warnings.Len())
	lg.Summaryf("XINU core executable: %s", cfg.Executable)
	return cfg.Executable, nil
}

func (b *Builder) compile(ctx context.Context, tc *toolchain.Toolchain, plan *Plan, warnings *toolchain.Warnings) ([]string, error) {
	cfg := b.Config
	lg := b.log()
	lg.Infof("Compiling %d source files", len(plan.Sources))
	lg.Filef("\n=== Compilation ===")

	limit := cfg.ErrorLimit
	if limit <= 0 {
		limit = config.DefaultErrorLimit
	}

	var objs, failed []string
	errCount := 0
	for i, src := range plan.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj := plan.Objects[i]
		lg.Filef("\nCompiling %s -> %s", src, obj)
		res, err := tc.Compile(ctx, src, obj, plan.Includes, plan.FlagsFor(src))
		lg.Filef("Command: %s", res.Command)
		if err != nil {
			return nil, err
		}
		n := b.report(res, warnings)
		if res.ExitCode == 0 {
			objs = append(objs, obj)
			lg.Verbosef("Compiled %s", src)
		} else {
			failed = append(failed, src)
			lg.Filef("Failed to compile %s", src)
			if n == 0 {
				n = 1
			}
		}
		errCount += n
		if errCount >= limit {
			lg.Errorf("Compilation aborted after %d errors (limit: %d).", errCount, limit)
			return nil, errors.Wrapf(ErrErrorLimit, "%d errors", errCount)
		}
	}
	if len(failed) > 0 {
		return nil, errors.Wrapf(ErrCompile, "%d error(s) in %s", errCount, strings.Join(failed, ", "))
	}
	return objs, nil
}

// report logs a result's diagnostics and returns its error count. Each
// distinct warning is logged once per build.
func (b *Builder) report(res toolchain.Result, warnings *toolchain.Warnings) int {
	n := 0
	for _, d := range res.Diagnostics {
		switch d.Kind {
		case toolchain.KindError:
			b.log().Errorf("%s", d.Line)
			n++
		case toolchain.KindWarning:
			if warnings.Add(d.Line) {
				b.log().Warnf("%s", d.Line)
			}
		}
	}
	return n
}

// Clean removes generated files and objects.
func (b *Builder) Clean() ([]string, error) {
	removed, err := state.Clean(b.Config.OutputDir, b.Config.ObjDir, b.Config.IncludeDir)
	for _, f := range removed {
		b.log().Verbosef("Removed %s", f)
	}
	return removed, err
}

// RunSimulation runs the built executable with args and returns its exit code.
func (b *Builder) RunSimulation(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	exe := b.Config.Executable
	info, err := os.Stat(exe)
	if err != nil || info.IsDir() {
		return 1, errors.Wrapf(ErrNoExe, "%s (run build first)", exe)
	}
	if b.Config.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return 1, errors.Errorf("%s is not executable", exe)
	}
	b.log().Infof("Running simulation %s", exe)
	return toolchain.Run(ctx, exe, args, stdin, stdout, stderr)
}

// objectPaths names one object per source under objDir. Sources sharing a
// base name get their parent directory name prefixed, then a counter.
func objectPaths(objDir string, sources []string) []string {
	used := make(map[string]bool, len(sources))
	out := make([]string, len(sources))
	for i, src := range sources {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		name := stem + ".o"
		if used[name] {
			name = filepath.Base(filepath.Dir(src)) + "_" + stem + ".o"
		}
		for n := 2; used[name]; n++ {
			name = filepath.Base(filepath.Dir(src)) + "_" + stem + "_" + strconv.Itoa(n) + ".o"
		}
		used[name] = true
		out[i] = filepath.Join(objDir, name)
	}
	return out
}

// splitC separates C sources from other files a Makefile source list may
// name, such as headers or objects.
func splitC(paths []string) (c, other []string) {
	for _, p := range paths {
		if filepath.Ext(p) == ".c" {
			c = append(c, p)
		} else {
			other = append(other, p)
		}
	}
	return c, other
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
