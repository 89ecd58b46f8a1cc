package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger writes level-tagged, timestamped lines to a writer
// (stderr by default), colorizing the level tag when the writer is a
// terminal. Safe for concurrent use.
type ConsoleLogger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel int
	colorize bool
	now      func() time.Time
}

// NewConsoleLogger returns a ConsoleLogger writing to stderr at the
// given level ("trace","debug","info","warn","error"), colorized only
// when stderr is an attached terminal.
func NewConsoleLogger(level string) *ConsoleLogger {
	return newConsoleLogger(os.Stderr, level, isTerminal(os.Stderr))
}

// NewConsoleLoggerTo returns a ConsoleLogger writing to an arbitrary
// writer, colorized only when that writer is an attached terminal.
func NewConsoleLoggerTo(w io.Writer, level string) *ConsoleLogger {
	f, ok := w.(*os.File)
	colorize := ok && isTerminal(f)
	return newConsoleLogger(w, level, colorize)
}

func newConsoleLogger(w io.Writer, level string, colorize bool) *ConsoleLogger {
	return &ConsoleLogger{
		out:      w,
		minLevel: normalizeLogLevel(level),
		colorize: colorize,
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *ConsoleLogger) levelTag(level int) string {
	switch level {
	case levelTrace:
		return "TRACE"
	case levelDebug:
		return "DEBUG"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (c *ConsoleLogger) colorFor(level int) *color.Color {
	switch level {
	case levelTrace, levelDebug:
		return color.New(color.FgHiBlack)
	case levelWarn:
		return color.New(color.FgYellow)
	case levelError:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}

func (c *ConsoleLogger) log(level int, msg string, fields []any) {
	if level < c.minLevel {
		return
	}
	tag := c.levelTag(level)
	ts := timestamp(c.now).Format("15:04:05.000")

	var line strings.Builder
	fmt.Fprintf(&line, "%s ", ts)
	if c.colorize {
		line.WriteString(c.colorFor(level).Sprintf("[%s]", tag))
	} else {
		fmt.Fprintf(&line, "[%s]", tag)
	}
	fmt.Fprintf(&line, " %s", msg)
	if pairs := fieldsToPairs(fields); len(pairs) > 0 {
		fmt.Fprintf(&line, " (%s)", strings.Join(pairs, " "))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line.String())
}

func (c *ConsoleLogger) Debug(msg string, fields ...any) { c.log(levelDebug, msg, fields) }
func (c *ConsoleLogger) Info(msg string, fields ...any)  { c.log(levelInfo, msg, fields) }
func (c *ConsoleLogger) Warn(msg string, fields ...any)  { c.log(levelWarn, msg, fields) }
func (c *ConsoleLogger) Error(msg string, fields ...any) { c.log(levelError, msg, fields) }

var _ Logger = (*ConsoleLogger)(nil)
