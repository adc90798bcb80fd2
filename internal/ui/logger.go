package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Logger provides color-coded user facing messages. Library packages log
// through logrus; Logger is for the CLI's own output.
type Logger struct {
	Verbose bool
	Quiet   bool
	out     io.Writer

	info    *color.Color
	success *color.Color
	warning *color.Color
	err     *color.Color
	debug   *color.Color
}

// NewLogger creates a new logger writing to stderr. Colors are disabled
// when requested or when stderr is not a terminal.
func NewLogger(verbose, quiet, noColor bool) *Logger {
	return newLogger(os.Stderr, verbose, quiet, noColor || !isTerminal(os.Stderr))
}

func newLogger(out io.Writer, verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		out:     out,
		info:    color.New(color.FgBlue),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		err:     color.New(color.FgRed),
		debug:   color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{l.info, l.success, l.warning, l.err, l.debug} {
			c.DisableColor()
		}
	}
	return l
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (l *Logger) print(c *color.Color, prefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(l.out, c.Sprint(prefix+" "+msg))
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(l.info, "[INFO]", format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(l.success, "[SUCCESS]", format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(l.warning, "[WARNING]", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(l.err, "[ERROR]", format, args...)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.print(l.debug, "[DEBUG]", format, args...)
}

// SetupLogging configures the logrus logger used by the library
// packages: debug output when verbose, only errors when quiet.
func SetupLogging(verbose, quiet, noColor bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:    noColor || !isTerminal(os.Stderr),
		DisableTimestamp: true,
	})
	switch {
	case verbose:
		logrus.SetLevel(logrus.DebugLevel)
	case quiet:
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
}
