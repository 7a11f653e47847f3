// Package config builds the immutable configuration record for one xinusim
// invocation.
//
// Precedence, lowest to highest:
//   - paths derived from the project directory layout
//   - <project>/xinusim.yaml (optional)
//   - XINUSIM_* environment variables
//   - command-line Overrides
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/stevegt/envi"
	"gopkg.in/yaml.v2"

	"github.com/stevegt/xinusim/expand"
	"github.com/stevegt/xinusim/filter"
)

const (
	// FileName is the optional per-project config file.
	FileName = "xinusim.yaml"

	// OSDirName is the subdirectory holding the XINU tree when the project
	// keeps it separate from the builder.
	OSDirName = "XINU OS"

	// BuilderDirName holds xinusim's output under the project directory.
	BuilderDirName = "xinu_sim"

	DefaultCC         = "gcc"
	DefaultErrorLimit = 20
)

// Config enumerates every setting a build uses. It is constructed once and
// passed by value.
type Config struct {
	ProjectDir string
	OSDir      string
	IncludeDir string
	SystemDir  string
	DeviceDir  string
	ShellDir   string
	LibxcDir   string
	CompileDir string
	Makefile   string

	OutputDir      string
	ObjDir         string
	XinuH          string
	StddefsH       string
	IncludesH      string
	PreH           string
	SimHelperC     string
	CompilationLog string
	Executable     string

	CC           string
	ExtraCFlags  []string
	ExtraLDFlags []string
	Defines      []string
	Shimmed      []string

	ErrorLimit     int
	MaxExpandDepth int
	StrictCycles   bool
	Verbose        bool
	GOOS           string
}

// Overrides are command-line settings. Zero values leave lower layers alone.
type Overrides struct {
	OutputDir      string
	CC             string
	Defines        []string
	ErrorLimit     int
	MaxExpandDepth int
	StrictCycles   bool
	Verbose        bool
}

// fileConfig is the schema of xinusim.yaml.
type fileConfig struct {
	OutputDir      string   `yaml:"output_dir"`
	CC             string   `yaml:"cc"`
	CFlags         string   `yaml:"cflags"`
	LDFlags        string   `yaml:"ldflags"`
	Defines        []string `yaml:"defines"`
	Shimmed        []string `yaml:"shimmed"`
	ErrorLimit     int      `yaml:"error_limit"`
	MaxExpandDepth int      `yaml:"max_expand_depth"`
	StrictCycles   bool     `yaml:"strict_cycles"`
}

// Load builds the Config for projectDir on the running platform.
func Load(projectDir string, o Overrides) (Config, error) {
	return load(projectDir, o, runtime.GOOS)
}

func load(projectDir string, o Overrides, goos string) (Config, error) {
	c, err := Derive(projectDir, goos)
	if err != nil {
		return Config{}, err
	}
	if err := c.applyFile(filepath.Join(c.ProjectDir, FileName)); err != nil {
		return Config{}, err
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	c.applyOverrides(o)
	return c, nil
}

// Derive computes the default layout for projectDir.
func Derive(projectDir, goos string) (Config, error) {
	if projectDir == "" {
		projectDir = "."
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return Config{}, errors.Wrapf(err, "resolve project dir %q", projectDir)
	}

	c := Config{
		ProjectDir:     abs,
		CC:             DefaultCC,
		Shimmed:        append([]string(nil), filter.ShimmedFuncs...),
		ErrorLimit:     DefaultErrorLimit,
		MaxExpandDepth: expand.DefaultMaxDepth,
		GOOS:           goos,
	}

	c.OSDir = filepath.Join(abs, OSDirName)
	if !isDir(c.OSDir) {
		c.OSDir = abs
	}
	c.IncludeDir = filepath.Join(abs, "include")
	if !isDir(c.IncludeDir) {
		c.IncludeDir = filepath.Join(c.OSDir, "include")
	}
	c.SystemDir = filepath.Join(c.OSDir, "system")
	c.DeviceDir = filepath.Join(c.OSDir, "device")
	c.ShellDir = filepath.Join(c.OSDir, "shell")
	c.LibxcDir = filepath.Join(c.OSDir, "lib", "libxc")
	c.CompileDir = filepath.Join(c.OSDir, "compile")
	c.Makefile = filepath.Join(c.CompileDir, "Makefile")

	c.XinuH = filepath.Join(c.IncludeDir, "xinu.h")
	builderInclude := filepath.Join(abs, BuilderDirName, "include")
	if isDir(builderInclude) {
		c.XinuH = filepath.Join(builderInclude, "xinu.h")
	}

	c.setOutputDir(filepath.Join(abs, BuilderDirName, "output"))
	return c, nil
}

// setOutputDir moves every generated path under dir.
func (c *Config) setOutputDir(dir string) {
	c.OutputDir = dir
	c.ObjDir = filepath.Join(dir, "obj")
	c.StddefsH = filepath.Join(dir, "xinu_stddefs.h")
	c.IncludesH = filepath.Join(dir, "xinu_includes.h")
	c.PreH = filepath.Join(dir, "xinu_pre.h")
	c.SimHelperC = filepath.Join(dir, "xinu_simulation.c")
	c.CompilationLog = filepath.Join(dir, "compilation.txt")
	c.Executable = filepath.Join(dir, "xinu_core")
	if c.GOOS == "windows" {
		c.Executable += ".exe"
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read %q", path)
	}

	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return errors.Wrapf(err, "parse %q", path)
	}

	if fc.OutputDir != "" {
		c.setOutputDir(c.abs(fc.OutputDir))
	}
	if fc.CC != "" {
		c.CC = fc.CC
	}
	if c.ExtraCFlags, err = appendSplit(c.ExtraCFlags, fc.CFlags); err != nil {
		return errors.Wrapf(err, "%s: cflags", path)
	}
	if c.ExtraLDFlags, err = appendSplit(c.ExtraLDFlags, fc.LDFlags); err != nil {
		return errors.Wrapf(err, "%s: ldflags", path)
	}
	c.Defines = append(c.Defines, fc.Defines...)
	c.Shimmed = append(c.Shimmed, fc.Shimmed...)
	if fc.ErrorLimit > 0 {
		c.ErrorLimit = fc.ErrorLimit
	}
	if fc.MaxExpandDepth > 0 {
		c.MaxExpandDepth = fc.MaxExpandDepth
	}
	c.StrictCycles = c.StrictCycles || fc.StrictCycles
	return nil
}

func (c *Config) applyEnv() error {
	if dir := envi.String("XINUSIM_OUTPUT_DIR", ""); dir != "" {
		c.setOutputDir(c.abs(dir))
	}
	c.CC = envi.String("XINUSIM_CC", c.CC)

	var err error
	if c.ExtraCFlags, err = appendSplit(c.ExtraCFlags, envi.String("XINUSIM_CFLAGS", "")); err != nil {
		return errors.Wrap(err, "XINUSIM_CFLAGS")
	}
	if c.ExtraLDFlags, err = appendSplit(c.ExtraLDFlags, envi.String("XINUSIM_LDFLAGS", "")); err != nil {
		return errors.Wrap(err, "XINUSIM_LDFLAGS")
	}
	if n := envi.Int("XINUSIM_ERROR_LIMIT", 0); n > 0 {
		c.ErrorLimit = n
	}
	if n := envi.Int("XINUSIM_MAX_EXPAND_DEPTH", 0); n > 0 {
		c.MaxExpandDepth = n
	}
	c.Verbose = c.Verbose || envi.Bool("XINUSIM_VERBOSE", false)
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.OutputDir != "" {
		c.setOutputDir(c.abs(o.OutputDir))
	}
	if o.CC != "" {
		c.CC = o.CC
	}
	c.Defines = append(c.Defines, o.Defines...)
	if o.ErrorLimit > 0 {
		c.ErrorLimit = o.ErrorLimit
	}
	if o.MaxExpandDepth > 0 {
		c.MaxExpandDepth = o.MaxExpandDepth
	}
	c.StrictCycles = c.StrictCycles || o.StrictCycles
	c.Verbose = c.Verbose || o.Verbose
}

// ExpandOptions returns the variable expansion settings.
func (c Config) ExpandOptions() expand.Options {
	return expand.Options{MaxDepth: c.MaxExpandDepth, DetectCycles: c.StrictCycles}
}

// SourceBases are the candidate directories for Makefile source paths, in
// priority order.
func (c Config) SourceBases() []string {
	return []string{c.CompileDir, c.OSDir, filepath.Dir(c.CompileDir)}
}

// StandardIncludes are always searched before Makefile include dirs.
func (c Config) StandardIncludes() []string {
	return []string{c.IncludeDir, c.OutputDir, filepath.Dir(c.XinuH)}
}

// ScanDirs are searched for sources when the Makefile is unusable.
func (c Config) ScanDirs() []string {
	return []string{c.SystemDir, filepath.Join(c.DeviceDir, "tty"), c.ShellDir, c.LibxcDir}
}

// DefineFlags renders Defines as -D compiler flags.
func (c Config) DefineFlags() []string {
	out := make([]string, 0, len(c.Defines))
	for _, d := range c.Defines {
		out = append(out, "-D"+d)
	}
	return out
}

func (c Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.ProjectDir, p)
}

// appendSplit splits s with shell quoting rules and appends the words.
func appendSplit(dst []string, s string) ([]string, error) {
	if s == "" {
		return dst, nil
	}
	words, err := shlex.Split(s)
	if err != nil {
		return dst, err
	}
	return append(dst, words...), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
