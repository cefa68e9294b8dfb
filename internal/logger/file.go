package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ferrolane/guild/internal/models"
)

// FileLogger logs run events to files in the .guild/logs/ directory.
// It creates timestamped per-run log files, per-task detail logs,
// and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and supports log level filtering.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a new FileLogger that writes to .guild/logs/ in the
// current working directory. Uses default log level "info".
func NewFileLogger() (*FileLogger, error) {
	logDir := filepath.Join(".guild", "logs")
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDir creates a new FileLogger with a custom log directory.
// Uses default log level "info".
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log
// directory and log level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	// Timestamped filename: run-YYYYMMDD-HHMMSS.log
	ts := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", ts))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	// Point latest.log at the current run.
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

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== Guild Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// shouldLog checks if a message at the given level should be logged.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

// logWithLevel logs a message at the specified level if filtering allows it.
func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}

	formatted := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message)
	fl.writeRunLog(formatted)
}

// LogRunStart logs the start of a project run at INFO level.
func (fl *FileLogger) LogRunStart(project string, features, tasks int) {
	if !fl.shouldLog("info") {
		return
	}

	taskLabel := "task"
	if tasks != 1 {
		taskLabel = "tasks"
	}

	message := fmt.Sprintf(
		"[%s] Starting %s: %d features, %d %s\n",
		time.Now().Format("15:04:05"),
		project,
		features,
		tasks,
		taskLabel,
	)

	fl.writeRunLog(message)
}

// LogIterationStart logs the start of a scheduling iteration at INFO level.
func (fl *FileLogger) LogIterationStart(iteration, budget int) {
	if !fl.shouldLog("info") {
		return
	}

	message := fmt.Sprintf(
		"[%s] Starting iteration %d/%d\n",
		time.Now().Format("15:04:05"),
		iteration,
		budget,
	)

	fl.writeRunLog(message)
}

// LogIterationComplete logs the completion of an iteration at INFO level.
func (fl *FileLogger) LogIterationComplete(iteration int, duration time.Duration) {
	if !fl.shouldLog("info") {
		return
	}

	message := fmt.Sprintf(
		"[%s] Iteration %d complete: duration %.1fs\n",
		time.Now().Format("15:04:05"),
		iteration,
		duration.Seconds(),
	)

	fl.writeRunLog(message)
}

// LogFeatureTransition logs a feature status change at INFO level.
func (fl *FileLogger) LogFeatureTransition(feature string, from, to models.FeatureStatus, reason string) {
	if !fl.shouldLog("info") {
		return
	}

	message := fmt.Sprintf("[%s] Feature %s: %s -> %s", time.Now().Format("15:04:05"), feature, from, to)
	if reason != "" {
		message += fmt.Sprintf(" (%s)", reason)
	}
	message += "\n"

	fl.writeRunLog(message)
}

// LogTaskResult logs detailed information about a task execution.
// It creates a separate log file for each task in the tasks/ subdirectory.
func (fl *FileLogger) LogTaskResult(rec models.TaskRecord) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// Task ids contain slashes; flatten them for the filename.
	name := strings.ReplaceAll(rec.TaskID, "/", "-")
	taskLogPath := filepath.Join(fl.tasksDir, fmt.Sprintf("task-%s.log", name))

	file, err := os.OpenFile(taskLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create task log file: %w", err)
	}
	defer file.Close()

	content := fmt.Sprintf("=== Task %s (%s) ===\n", rec.TaskID, rec.Capability)
	content += fmt.Sprintf("Feature: %s\n", rec.Feature)
	content += fmt.Sprintf("Iteration: %d\n", rec.Iteration)
	content += fmt.Sprintf("Attempt: %d\n", rec.Attempt)
	content += fmt.Sprintf("Outcome: %s\n", rec.Outcome)
	content += fmt.Sprintf("Duration: %.1fs\n", rec.Duration.Seconds())
	content += "\n"

	if rec.Detail != "" {
		content += fmt.Sprintf("Detail:\n%s\n\n", rec.Detail)
	}

	content += fmt.Sprintf("Completed at: %s\n", rec.Timestamp.Format(time.RFC3339))

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write task log: %w", err)
	}

	return nil
}

// LogProgress logs the current execution progress (no-op for file logger).
// Progress bars are console-only.
func (fl *FileLogger) LogProgress(tasks []*models.Task) {
}

// LogSummary logs the run summary with final statistics at INFO level.
func (fl *FileLogger) LogSummary(report *models.RunReport) {
	if report == nil || !fl.shouldLog("info") {
		return
	}

	ts := time.Now().Format("15:04:05")

	status := strings.ToUpper(string(report.Status))
	if report.Cause != "" {
		status += fmt.Sprintf(" (%s)", report.Cause)
	}

	total := report.Succeeded + report.Failed + report.Skipped

	message := fmt.Sprintf(
		"\n[%s] === RUN SUMMARY ===\n"+
			"[%s] Total tasks:  %d\n"+
			"[%s] Succeeded:    %d\n"+
			"[%s] Failed:       %d\n"+
			"[%s] Skipped:      %d\n"+
			"[%s] Iterations:   %d\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Status:       %s\n"+
			"[%s] Completed at: %s\n",
		ts,
		ts,
		total,
		ts,
		report.Succeeded,
		ts,
		report.Failed,
		ts,
		report.Skipped,
		ts,
		report.Iterations,
		ts,
		report.Duration.Seconds(),
		ts,
		status,
		ts,
		time.Now().Format(time.RFC3339),
	)

	fl.writeRunLog(message)

	for _, f := range report.Features {
		line := fmt.Sprintf("[%s]   - %s: %s", ts, f.Name, f.Status)
		if f.Reason != "" {
			line += fmt.Sprintf(" (%s)", f.Reason)
		}
		fl.writeRunLog(line + "\n")
	}
}

// Close flushes and closes the run log file.
// It should be called when the logger is no longer needed.
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

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write so latest.log tails in real time.
		fl.runLog.Sync()
	}
}
