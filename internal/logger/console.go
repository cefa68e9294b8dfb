// Package logger provides logging implementations for guild runs.
//
// The logger package offers structured logging of run progress at the
// iteration, task and summary levels. Implementations are thread-safe and
// support various output destinations (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/ferrolane/guild/internal/models"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with timestamps and thread
// safety. All output is prefixed with [HH:MM:SS] timestamps. It supports log
// level filtering to control message verbosity, and color output is
// automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided
// io.Writer. If writer is nil, messages are silently discarded.
// logLevel determines the minimum log level for messages to be output.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// NO_COLOR and dumb terminals are honored through the color library's
// NoColor flag.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates
// it. Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info"
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
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

// LogTrace logs a trace-level message (most verbose).
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
// Format: "[HH:MM:SS] [WARN] <message>"
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
// Format: "[HH:MM:SS] [ERROR] <message>"
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}

	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string

	if cl.colorOutput {
		formatted = cl.formatWithColor(ts, level, message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// formatWithColor formats a log message with ANSI color codes.
func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string

	switch strings.ToUpper(level) {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}

	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogRunStart logs the start of a project run at INFO level.
// Format: "[HH:MM:SS] Starting <project>: <n> features, <m> tasks"
func (cl *ConsoleLogger) LogRunStart(project string, features, tasks int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	name := project
	if cl.colorOutput {
		name = color.New(color.Bold).Sprint(project)
	}

	message := fmt.Sprintf("[%s] Starting %s: %d features, %d tasks\n", ts, name, features, tasks)
	cl.writer.Write([]byte(message))
}

// LogIterationStart logs the start of a scheduling iteration at INFO level.
// Format: "[HH:MM:SS] Starting iteration <n>/<budget>"
func (cl *ConsoleLogger) LogIterationStart(iteration, budget int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	label := fmt.Sprintf("iteration %d/%d", iteration, budget)
	if cl.colorOutput {
		label = color.New(color.Bold).Sprint(label)
	}

	message := fmt.Sprintf("[%s] Starting %s\n", ts, label)
	cl.writer.Write([]byte(message))
}

// LogIterationComplete logs the completion of an iteration at INFO level.
// Format: "[HH:MM:SS] iteration <n> complete (<duration>)"
func (cl *ConsoleLogger) LogIterationComplete(iteration int, duration time.Duration) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(duration)

	var message string
	if cl.colorOutput {
		label := color.New(color.Bold).Sprintf("iteration %d", iteration)
		completeText := color.New(color.FgGreen).Sprint("complete")
		message = fmt.Sprintf("[%s] %s %s (%s)\n", ts, label, completeText, durationStr)
	} else {
		message = fmt.Sprintf("[%s] iteration %d complete (%s)\n", ts, iteration, durationStr)
	}

	cl.writer.Write([]byte(message))
}

// LogTaskResult logs the completion of a task at DEBUG level.
// Format: "[HH:MM:SS] Task <id> (attempt <n>): <OUTCOME>"
// Returns nil for successful logging, or an error if the write failed.
func (cl *ConsoleLogger) LogTaskResult(rec models.TaskRecord) error {
	if cl.writer == nil {
		return nil
	}

	if !cl.shouldLog("debug") {
		return nil
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	taskInfo := fmt.Sprintf("Task %s (attempt %d)", rec.TaskID, rec.Attempt)

	outcomeText := strings.ToUpper(string(rec.Outcome))
	if cl.colorOutput {
		outcomeText = cl.scheme.outcome(rec.Outcome)
	}

	message := fmt.Sprintf("[%s] %s: %s\n", ts, taskInfo, outcomeText)
	_, err := cl.writer.Write([]byte(message))
	return err
}

// LogFeatureTransition logs a feature status change at INFO level.
// Format: "[HH:MM:SS] Feature <name>: <from> -> <to>" plus the reason when
// one was recorded.
func (cl *ConsoleLogger) LogFeatureTransition(feature string, from, to models.FeatureStatus, reason string) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	toText := string(to)
	if cl.colorOutput {
		toText = cl.scheme.featureStatus(to)
	}

	message := fmt.Sprintf("[%s] Feature %s: %s -> %s", ts, feature, from, toText)
	if reason != "" {
		message += fmt.Sprintf(" (%s)", reason)
	}
	message += "\n"

	cl.writer.Write([]byte(message))
}

// LogProgress logs real-time progress of the run with a bar, counts and the
// average duration of finished tasks.
// Format: "[HH:MM:SS] Progress: [====      ] 4/8 (50%) (4/8 tasks) - Avg: 3s/task"
func (cl *ConsoleLogger) LogProgress(tasks []*models.Task) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()

	// A task counts as finished once it reaches any terminal status.
	finished := 0
	totalDuration := time.Duration(0)
	for _, task := range tasks {
		if task == nil || !task.Status.Terminal() {
			continue
		}
		finished++
		if task.StartedAt != nil && task.CompletedAt != nil {
			totalDuration += task.CompletedAt.Sub(*task.StartedAt)
		}
	}

	total := len(tasks)

	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(finished)

	var avgDurationStr string
	if finished > 0 {
		avgDuration := totalDuration / time.Duration(finished)
		avgDurationStr = fmt.Sprintf(" - Avg: %s/task", formatDuration(avgDuration))
	}

	message := fmt.Sprintf("[%s] Progress: %s (%d/%d tasks)%s\n", ts, pb.Render(), finished, total, avgDurationStr)
	cl.writer.Write([]byte(message))
}

// LogSummary logs the run summary with completion statistics at INFO level.
func (cl *ConsoleLogger) LogSummary(report *models.RunReport) {
	if cl.writer == nil || report == nil {
		return
	}

	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(report.Duration)

	var output string

	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Run Summary ===")
		status := cl.scheme.runStatus(report.Status)
		if report.Cause != "" {
			status += fmt.Sprintf(" (cause: %s)", report.Cause)
		}

		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Project: %s\n", ts, report.Project)
		output += fmt.Sprintf("[%s] Status: %s\n", ts, status)
		output += fmt.Sprintf("[%s] Iterations: %d\n", ts, report.Iterations)
		output += fmt.Sprintf("[%s] Tasks: %s\n", ts, formatTaskCounts(report, cl.scheme))
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if len(report.Features) > 0 {
			output += fmt.Sprintf("[%s] Features:\n", ts)
			for _, f := range report.Features {
				line := fmt.Sprintf("  - %s: %s", f.Name, cl.scheme.featureStatus(f.Status))
				if f.Reason != "" {
					line += fmt.Sprintf(" (%s)", f.Reason)
				}
				output += fmt.Sprintf("[%s] %s\n", ts, line)
			}
		}
	} else {
		status := string(report.Status)
		if report.Cause != "" {
			status += fmt.Sprintf(" (cause: %s)", report.Cause)
		}

		output = fmt.Sprintf("[%s] === Run Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Project: %s\n", ts, report.Project)
		output += fmt.Sprintf("[%s] Status: %s\n", ts, status)
		output += fmt.Sprintf("[%s] Iterations: %d\n", ts, report.Iterations)
		output += fmt.Sprintf("[%s] Tasks: succeeded %d, failed %d, skipped %d\n", ts, report.Succeeded, report.Failed, report.Skipped)
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if len(report.Features) > 0 {
			output += fmt.Sprintf("[%s] Features:\n", ts)
			for _, f := range report.Features {
				line := fmt.Sprintf("  - %s: %s", f.Name, f.Status)
				if f.Reason != "" {
					line += fmt.Sprintf(" (%s)", f.Reason)
				}
				output += fmt.Sprintf("[%s] %s\n", ts, line)
			}
		}
	}

	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogRunStart is a no-op implementation.
func (n *NoOpLogger) LogRunStart(project string, features, tasks int) {
}

// LogIterationStart is a no-op implementation.
func (n *NoOpLogger) LogIterationStart(iteration, budget int) {
}

// LogIterationComplete is a no-op implementation.
func (n *NoOpLogger) LogIterationComplete(iteration int, duration time.Duration) {
}

// LogTaskResult is a no-op implementation.
func (n *NoOpLogger) LogTaskResult(rec models.TaskRecord) error {
	return nil
}

// LogFeatureTransition is a no-op implementation.
func (n *NoOpLogger) LogFeatureTransition(feature string, from, to models.FeatureStatus, reason string) {
}

// LogProgress is a no-op implementation.
func (n *NoOpLogger) LogProgress(tasks []*models.Task) {
}

// LogSummary is a no-op implementation.
func (n *NoOpLogger) LogSummary(report *models.RunReport) {
}

// LogDebug is a no-op implementation.
func (n *NoOpLogger) LogDebug(message string) {
}

// LogInfo is a no-op implementation.
func (n *NoOpLogger) LogInfo(message string) {
}

// LogWarn is a no-op implementation.
func (n *NoOpLogger) LogWarn(message string) {
}

// LogError is a no-op implementation.
func (n *NoOpLogger) LogError(message string) {
}
