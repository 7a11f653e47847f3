// Package buildlog writes build progress to the terminal and to the
// compilation log file.
//
// A Logger is created once per invocation and passed to each component; there
// is no package-level logger.
package buildlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/stevegt/xinusim/state"
)

// Level selects the prefix and color of a message.
type Level int

const (
	Info Level = iota
	Warning
	Error
	Success
	Debug
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Success:
		return "SUCCESS"
	default:
		return "DEBUG"
	}
}

const colorReset = "\033[0m"

func (l Level) color() string {
	switch l {
	case Info:
		return "\033[94m"
	case Warning:
		return "\033[93m"
	case Error:
		return "\033[91m"
	case Success:
		return "\033[92m"
	default:
		return colorReset
	}
}

// Options configures a Logger.
type Options struct {
	// Verbose enables Verbosef output.
	Verbose bool
	// Color enables ANSI colors on the terminal writer.
	Color bool
	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// Logger fans messages out to a terminal writer and an optional log file.
type Logger struct {
	mu      sync.Mutex
	term    io.Writer
	file    io.WriteCloser
	path    string
	opts    Options
	summary []string
}

// New returns a Logger that writes only to term.
func New(term io.Writer, opts Options) *Logger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Logger{term: term, opts: opts}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, Options{})
}

// OpenFile starts the compilation log at path, truncating it and writing the
// header line.
func (l *Logger) OpenFile(path string, stamp state.Stamp) error {
	if err := state.EnsureParentDir(path); err != nil {
		return errors.Wrapf(err, "create log dir for %q", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open log %q", path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
	}
	l.file = f
	l.path = path
	fmt.Fprintf(f, "XINU Compilation Log\nStarted: %s at %s\n", stamp.User, stamp)
	return nil
}

// Path returns the log file path, or "" if no file is open.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Verbose reports whether verbose output is enabled.
func (l *Logger) Verbose() bool {
	return l.opts.Verbose
}

// Infof logs at Info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(Info, false, fmt.Sprintf(format, args...))
}

// Warnf logs at Warning level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(Warning, false, fmt.Sprintf(format, args...))
}

// Errorf logs at Error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(Error, false, fmt.Sprintf(format, args...))
}

// Successf logs at Success level.
func (l *Logger) Successf(format string, args ...interface{}) {
	l.log(Success, false, fmt.Sprintf(format, args...))
}

// Verbosef logs at Debug level when verbose output is enabled.
func (l *Logger) Verbosef(format string, args ...interface{}) {
	if !l.opts.Verbose {
		return
	}
	l.log(Debug, false, fmt.Sprintf(format, args...))
}

// Summaryf logs at Info level and also records the line for the build summary.
func (l *Logger) Summaryf(format string, args ...interface{}) {
	l.log(Info, true, fmt.Sprintf(format, args...))
}

// Filef writes a line to the log file only.
func (l *Logger) Filef(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, format+"\n", args...)
}

// Close appends the build summary to the log file and closes it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if len(l.summary) > 0 {
		fmt.Fprintf(l.file, "\n--- Build Summary ---\n%s\n", strings.Join(l.summary, "\n"))
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) log(level Level, summary bool, msg string) {
	now := l.opts.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s: %s", now.Format("15:04:05"), level, msg)
	if l.opts.Color {
		line = level.color() + line + colorReset
	}
	fmt.Fprintln(l.term, line)

	if l.file == nil && !summary {
		return
	}
	formatted := fmt.Sprintf("%s - %s", now.Format("2006-01-02 15:04:05"), msg)
	if l.file != nil {
		fmt.Fprintln(l.file, formatted)
	}
	if summary {
		l.summary = append(l.summary, formatted)
	}
}
