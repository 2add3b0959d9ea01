package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harrison/rootcause/internal/models"
)

// FileLogger writes classification runs to files under a log directory.
// It creates a timestamped per-run log, one detail file per task under tasks/,
// and maintains a latest.log symlink pointing to the most recent run.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger in logDir at the given level.
// It creates the log directory if it doesn't exist, opens a timestamped
// run log file, and creates/updates the latest.log symlink.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log; a second run in the same second appends.
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	fl.writeRunLog("=== rootcause Run Log ===\n")
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return fl, nil
}

// RunFile returns the path of this run's log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// Tracef logs a trace-level message.
func (fl *FileLogger) Tracef(format string, args ...interface{}) {
	fl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogOutcome writes a one-line entry to the run log and replaces the task's
// detail file (tasks/task-<id>.log) with the full outcome.
func (fl *FileLogger) LogOutcome(outcome models.HybridOutcome) {
	if fl.shouldLog("info") {
		fl.writeRunLog(fmt.Sprintf("[%s] %s\n", timestamp(), formatOutcome(outcome)))
	}
	if err := fl.writeTaskLog(outcome); err != nil {
		fl.logWithLevel("WARN", err.Error())
	}
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TaskLogPath returns the detail file for a task id.
func (fl *FileLogger) TaskLogPath(taskID string) string {
	name := unsafeNameRe.ReplaceAllString(taskID, "_")
	if name == "" {
		name = "_"
	}
	return filepath.Join(fl.tasksDir, fmt.Sprintf("task-%s.log", name))
}

func (fl *FileLogger) writeTaskLog(o models.HybridOutcome) error {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Task %s ===\n", o.TaskID)
	fmt.Fprintf(&b, "Case: %s\n", o.CaseID)
	fmt.Fprintf(&b, "Domain: %s\n", o.Domain)
	fmt.Fprintf(&b, "Label: %s\n", o.DisplayLabel())
	fmt.Fprintf(&b, "Confidence: %.2f\n", o.Confidence)
	fmt.Fprintf(&b, "Method: %s\n", o.Method)
	fmt.Fprintf(&b, "Latency: %dms\n", o.LatencyMs)
	fmt.Fprintf(&b, "Path: %s\n\n", strings.Join(o.States, " -> "))

	if d := o.Deterministic; d != nil {
		b.WriteString("=== Deterministic ===\n")
		fmt.Fprintf(&b, "Label: %s (%.2f)\n", d.Label, d.Confidence)
		if d.HasFailingStep() {
			fmt.Fprintf(&b, "Failing step: %d\n", d.FailingStep)
		}
		fmt.Fprintf(&b, "Table version: %d\n", d.TableVersion)
		if d.MatchedRule != "" {
			fmt.Fprintf(&b, "Matched rule: %s\n", d.MatchedRule)
		}
		if d.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", d.Error)
		}
		b.WriteString("\n")
	}

	if ai := o.AI; ai != nil {
		b.WriteString("=== Oracle ===\n")
		if !ai.Success {
			fmt.Fprintf(&b, "Error: %s\n\n", ai.Error)
		} else {
			fmt.Fprintf(&b, "Label: %s (%.2f)\n", ai.Label, ai.Confidence)
			fmt.Fprintf(&b, "Primary cause: %s\n", ai.Primary())
			for i, why := range ai.WhyChain.Whys {
				fmt.Fprintf(&b, "  why %d: %s\n", i+1, why)
			}
			for _, r := range ai.Recommendations {
				fmt.Fprintf(&b, "  - %s\n", r)
			}
			if ai.Summary != "" {
				fmt.Fprintf(&b, "Summary: %s\n", ai.Summary)
			}
			b.WriteString("\n")
		}
	}

	if len(o.RuleUpdates) > 0 {
		fmt.Fprintf(&b, "Rule updates: %s\n", strings.Join(o.RuleUpdates, ", "))
	}
	fmt.Fprintf(&b, "Logged at: %s\n", time.Now().Format(time.RFC3339))

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := os.WriteFile(fl.TaskLogPath(o.TaskID), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write task log: %w", err)
	}
	return nil
}

// LogProgress is a no-op. Progress bars are console-only.
func (fl *FileLogger) LogProgress(done, total int) {}

// LogBatchSummary appends the batch summary to the run log.
func (fl *FileLogger) LogBatchSummary(outcomes []models.HybridOutcome, rejected int, elapsed time.Duration) {
	if !fl.shouldLog("info") {
		return
	}
	s := Summarize(outcomes)
	ts := timestamp()
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] === CLASSIFICATION SUMMARY ===\n", ts)
	fmt.Fprintf(&b, "[%s] Bundles:       %d\n", ts, s.Total)
	fmt.Fprintf(&b, "[%s] Rejected:      %d\n", ts, rejected)
	fmt.Fprintf(&b, "[%s] Deterministic: %d\n", ts, s.ByMethod[models.MethodDeterministic])
	fmt.Fprintf(&b, "[%s] AI:            %d\n", ts, s.ByMethod[models.MethodAI])
	fmt.Fprintf(&b, "[%s] Fallback:      %d\n", ts, s.ByMethod[models.MethodFallback])
	for _, label := range s.Labels {
		fmt.Fprintf(&b, "[%s]   %s: %d\n", ts, label, s.ByLabel[label])
	}
	fmt.Fprintf(&b, "[%s] Total time:    %.1fs\n", ts, elapsed.Seconds())
	fl.writeRunLog(b.String())
}

// Close flushes and closes the run log file. Closing twice is safe.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
