// Package logger provides logging implementations for rootcause.
//
// Loggers report leveled messages, classification outcomes, and batch
// progress. Implementations are thread-safe and support various output
// destinations (console, file).
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

	"github.com/harrison/rootcause/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger writes to an io.Writer with [HH:MM:SS] timestamps.
// It supports log level filtering and colors output when the writer is a TTY.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a terminal file and NO_COLOR is not set.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// Tracef logs a trace-level message (most verbose).
func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	shown := level
	if cl.colorOutput {
		shown = levelColor(level).Sprint(level)
	}
	cl.write(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), shown, message))
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// LogOutcome logs a classification outcome at INFO level.
// Format: "[HH:MM:SS] <task>: <label> (<confidence>) via <method> [domain]"
func (cl *ConsoleLogger) LogOutcome(outcome models.HybridOutcome) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	var line string
	if cl.colorOutput {
		line = formatColorizedOutcome(outcome, newColorScheme())
	} else {
		line = formatOutcome(outcome)
	}
	ts := timestamp()
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, line)
	if outcome.AI != nil && !outcome.AI.Success && outcome.AI.Error != "" {
		fmt.Fprintf(&b, "[%s]   oracle: %s\n", ts, outcome.AI.Error)
	}
	if outcome.PatternDiscovered {
		fmt.Fprintf(&b, "[%s]   recurring pattern detected\n", ts)
	}
	for _, id := range outcome.RuleUpdates {
		fmt.Fprintf(&b, "[%s]   rule update: %s\n", ts, id)
	}
	cl.write(b.String())
}

// formatOutcome renders the one-line plain form of an outcome.
func formatOutcome(o models.HybridOutcome) string {
	return fmt.Sprintf("%s: %s (%.2f) via %s [%s] %s",
		o.TaskID, o.DisplayLabel(), o.Confidence, o.Method, o.Domain, formatDuration(time.Duration(o.LatencyMs)*time.Millisecond))
}

// LogProgress logs batch progress with a progress bar.
// Format: "[HH:MM:SS] Progress: [=====     ] 5/10 (50%)"
func (cl *ConsoleLogger) LogProgress(done, total int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}
	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(done)
	cl.write(fmt.Sprintf("[%s] Progress: %s\n", timestamp(), pb.Render()))
}

// LogBatchSummary logs counts by label and method for a batch run. rejected
// counts bundles that failed validation and produced no outcome.
func (cl *ConsoleLogger) LogBatchSummary(outcomes []models.HybridOutcome, rejected int, elapsed time.Duration) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	s := Summarize(outcomes)
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] === Classification Summary ===\n", timestamp())
	fmt.Fprintf(&b, "[%s] Bundles: %d  Duration: %s\n", timestamp(), s.Total, formatDuration(elapsed))
	fmt.Fprintf(&b, "[%s] Deterministic: %d  AI: %d  Fallback: %d\n", timestamp(),
		s.ByMethod[models.MethodDeterministic], s.ByMethod[models.MethodAI], s.ByMethod[models.MethodFallback])
	for _, label := range s.Labels {
		line := fmt.Sprintf("  %s: %d", label, s.ByLabel[label])
		if cl.colorOutput {
			line = labelColor(label, newColorScheme()).Sprint(line)
		}
		fmt.Fprintf(&b, "[%s] %s\n", timestamp(), line)
	}
	if rejected > 0 {
		fmt.Fprintf(&b, "[%s] Rejected bundles: %d\n", timestamp(), rejected)
	}
	cl.write(b.String())
}

func (cl *ConsoleLogger) write(s string) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	_, _ = cl.writer.Write([]byte(s))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "350ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
