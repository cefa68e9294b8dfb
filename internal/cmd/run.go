package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ferrolane/guild/internal/agent"
	"github.com/ferrolane/guild/internal/auditlog"
	"github.com/ferrolane/guild/internal/config"
	"github.com/ferrolane/guild/internal/engine"
	"github.com/ferrolane/guild/internal/filelock"
	"github.com/ferrolane/guild/internal/logger"
	"github.com/ferrolane/guild/internal/models"
	"github.com/ferrolane/guild/internal/spec"
	"github.com/ferrolane/guild/internal/telemetry"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [spec-file-or-directory]",
		Short: "Run a project specification to convergence",
		Long: `Run a project specification by orchestrating capability agents.

The run command loads the specification (YAML, JSON, Markdown, a directory
of spec files, or an inline --text description), synthesizes the task graph
from the features and their constraint tags, and iterates dispatch cycles
until every feature is approved, rejected or blocked.

One run per workspace at a time; concurrent invocations fail fast on the
lock under .guild. Every task outcome is appended to the audit log and the
final report is written to .guild/report.json.

Configuration is loaded from .guild/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  # Single spec file
  guild run webshop.yaml

  # Directory of spec files, merged into one project
  guild run specs/

  # Inline description
  guild run --text "a simple app with login and products"

  # Other options
  guild run webshop.yaml --max-concurrency 8   # Wider dispatch pool
  guild run webshop.yaml --task-timeout 5m     # Per-task deadline
  guild run webshop.yaml --iterations 20       # Raise the iteration budget
  guild run webshop.yaml --agents-dir roles/   # Exec agents from role files
  guild run webshop.yaml --verbose             # Show detailed progress
  guild run webshop.yaml --no-audit            # Skip audit log persistence

Exit codes: 0 converged, 1 failed (rejected or blocked feature),
2 iteration budget exhausted, 3 cancelled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .guild/config.yaml)")
	cmd.Flags().String("text", "", "Inline project description instead of a spec file")
	cmd.Flags().Int("max-concurrency", 0, "Maximum number of concurrently dispatched tasks")
	cmd.Flags().String("task-timeout", "", "Per-task deadline (e.g. 90s, 5m)")
	cmd.Flags().Int("iterations", 0, "Iteration budget for the run")
	cmd.Flags().Int("attempts", 0, "Attempts per capability before a feature is rejected")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("agents-dir", "", "Directory with agent definition files")
	cmd.Flags().Bool("no-audit", false, "Disable the audit log for this run")
	cmd.Flags().String("report", "", "Write the run report JSON to this path instead of .guild/report.json")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	home, err := config.GuildHome()
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(cmd, home)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logLevel := cfg.LogLevel
	if verbose {
		logLevel = "debug"
	}

	// Load the specification
	text, _ := cmd.Flags().GetString("text")
	project, source, err := loadProject(args, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded specification from %s\n", source)

	// One run per workspace
	runLock := filelock.NewRunLock(home)
	if err := runLock.Acquire(); err != nil {
		return err
	}
	defer runLock.Release()

	// Tracing is a no-op unless an endpoint is configured
	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    "guild",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: flush traces: %v\n", err)
		}
	}()

	// Console for real-time progress, file logger for the durable record
	consoleLog := logger.NewConsoleLogger(cmd.OutOrStdout(), logLevel)
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(config.ResolvePath(home, cfg.LogDir), logLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := &multiLogger{loggers: []engine.Logger{consoleLog, fileLog}}

	opts := engine.Options{
		MaxConcurrency:  cfg.MaxConcurrency,
		TaskTimeout:     cfg.TaskTimeout,
		IterationBudget: cfg.IterationBudget,
		AttemptCeiling:  cfg.AttemptCeiling,
		Installed:       cfg.Installed,
		Logger:          multiLog,
	}

	noAudit, _ := cmd.Flags().GetBool("no-audit")
	if cfg.Audit.Enabled && !noAudit {
		store, err := auditlog.NewStore(config.ResolvePath(home, cfg.Audit.DBPath))
		if err != nil {
			// The audit log never fails a run
			multiLog.LogWarn(fmt.Sprintf("audit log disabled: %v", err))
		} else {
			defer store.Close()
			// Holding the run lock makes unfinished rows safe to sweep
			if n, err := store.MarkAbandonedRuns(); err != nil {
				multiLog.LogWarn(fmt.Sprintf("sweep unfinished runs: %v", err))
			} else if n > 0 {
				multiLog.LogWarn(fmt.Sprintf("marked %d interrupted run(s) abandoned", n))
			}
			opts.Audit = store
		}
	}

	registry, err := buildRegistry(cfg, cmd.Flags().Changed("agents-dir"), multiLog)
	if err != nil {
		return err
	}

	controller := engine.NewController(registry, opts)
	report, err := controller.Run(cmd.Context(), project)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	writeReport(cmd, report, home, multiLog)

	if code := report.ExitCode(); code != models.ExitConverged {
		return &ExitError{Code: code, Err: fmt.Errorf("run %s: %s", report.Status, report.Cause)}
	}
	return nil
}

// loadConfigFile loads the workspace configuration, honoring an explicit
// --config flag over the default .guild/config.yaml.
func loadConfigFile(cmd *cobra.Command, home string) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfig(filepath.Join(home, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadRunConfig loads configuration for the run command, merging flag
// overrides.
func loadRunConfig(cmd *cobra.Command, home string) (*config.Config, error) {
	cfg, err := loadConfigFile(cmd, home)
	if err != nil {
		return nil, err
	}

	// Build flag pointers for merge (only explicitly set values)
	var maxConcurrencyPtr *int
	if cmd.Flags().Changed("max-concurrency") {
		v, _ := cmd.Flags().GetInt("max-concurrency")
		maxConcurrencyPtr = &v
	}

	var taskTimeoutPtr *time.Duration
	if cmd.Flags().Changed("task-timeout") {
		s, _ := cmd.Flags().GetString("task-timeout")
		timeout, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid task-timeout format %q: %w", s, err)
		}
		taskTimeoutPtr = &timeout
	}

	var iterationsPtr *int
	if cmd.Flags().Changed("iterations") {
		v, _ := cmd.Flags().GetInt("iterations")
		iterationsPtr = &v
	}

	var attemptsPtr *int
	if cmd.Flags().Changed("attempts") {
		v, _ := cmd.Flags().GetInt("attempts")
		attemptsPtr = &v
	}

	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &v
	}

	var agentsDirPtr *string
	if cmd.Flags().Changed("agents-dir") {
		v, _ := cmd.Flags().GetString("agents-dir")
		agentsDirPtr = &v
	}

	cfg.MergeWithFlags(maxConcurrencyPtr, taskTimeoutPtr, iterationsPtr, attemptsPtr, logDirPtr, agentsDirPtr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadProject resolves the specification source. Inline --text and a path
// argument are mutually exclusive; a path may name a single file or a
// directory of spec files.
func loadProject(args []string, text string) (*models.Project, string, error) {
	if text != "" {
		if len(args) > 0 {
			return nil, "", fmt.Errorf("cannot combine --text with a specification path")
		}
		p, err := spec.Parse(text)
		if err != nil {
			return nil, "", err
		}
		return p, "inline description", nil
	}

	if len(args) == 0 {
		return nil, "", fmt.Errorf("a specification file, directory or --text description is required")
	}

	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("access specification: %w", err)
	}
	if info.IsDir() {
		p, err := spec.LoadDirectory(path)
		return p, path, err
	}
	p, err := spec.Load(path)
	return p, path, err
}

// buildRegistry assembles the agent roster. Scripted defaults come first,
// then the configured command template, then definition files, so the most
// specific source wins per capability.
func buildRegistry(cfg *config.Config, explicitDir bool, log engine.Logger) (*agent.Registry, error) {
	registry := agent.NewRegistry()
	for _, a := range agent.DefaultRoster() {
		registry.Register(a)
	}

	if cfg.Agents.DefaultCommand != "" {
		for _, capability := range registry.Capabilities() {
			argv := expandCommand(cfg.Agents.DefaultCommand, capability)
			registry.Register(agent.NewExecAgent(capability, argv, 0))
		}
	}

	if cfg.Agents.Dir != "" {
		if _, err := os.Stat(cfg.Agents.Dir); err != nil {
			if explicitDir {
				return nil, fmt.Errorf("agents directory: %w", err)
			}
			// The default directory is optional
			log.LogDebug(fmt.Sprintf("no agents directory at %s, using built-in roster", cfg.Agents.Dir))
		} else {
			defs, err := agent.Discover(cfg.Agents.Dir, registry)
			if err != nil {
				return nil, fmt.Errorf("discover agents: %w", err)
			}
			log.LogInfo(fmt.Sprintf("registered %d agent definition(s) from %s", len(defs), cfg.Agents.Dir))
		}
	}

	return registry, nil
}

// expandCommand splits a command template into argv, substituting the
// capability name.
func expandCommand(template, capability string) []string {
	fields := strings.Fields(template)
	argv := make([]string, len(fields))
	for i, f := range fields {
		argv[i] = strings.ReplaceAll(f, "{capability}", capability)
	}
	return argv
}

// writeReport persists the final run report. Report problems are warnings:
// the exit code reflects the run outcome, not the bookkeeping.
func writeReport(cmd *cobra.Command, report *models.RunReport, home string, log engine.Logger) {
	reportPath, _ := cmd.Flags().GetString("report")
	if reportPath == "" {
		reportPath = filepath.Join(home, "report.json")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.LogWarn(fmt.Sprintf("encode run report: %v", err))
		return
	}
	if err := filelock.LockAndWrite(reportPath, data); err != nil {
		log.LogWarn(fmt.Sprintf("write run report: %v", err))
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run report written to %s\n", reportPath)
}

// multiLogger implements engine.Logger by delegating to multiple loggers
type multiLogger struct {
	loggers []engine.Logger
}

// LogRunStart forwards to all loggers
func (ml *multiLogger) LogRunStart(project string, features, tasks int) {
	for _, l := range ml.loggers {
		l.LogRunStart(project, features, tasks)
	}
}

// LogIterationStart forwards to all loggers
func (ml *multiLogger) LogIterationStart(iteration, budget int) {
	for _, l := range ml.loggers {
		l.LogIterationStart(iteration, budget)
	}
}

// LogIterationComplete forwards to all loggers
func (ml *multiLogger) LogIterationComplete(iteration int, duration time.Duration) {
	for _, l := range ml.loggers {
		l.LogIterationComplete(iteration, duration)
	}
}

// LogTaskResult forwards to all loggers
func (ml *multiLogger) LogTaskResult(rec models.TaskRecord) error {
	var lastErr error
	for _, l := range ml.loggers {
		if err := l.LogTaskResult(rec); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LogFeatureTransition forwards to all loggers
func (ml *multiLogger) LogFeatureTransition(feature string, from, to models.FeatureStatus, reason string) {
	for _, l := range ml.loggers {
		l.LogFeatureTransition(feature, from, to, reason)
	}
}

// LogProgress forwards to all loggers
func (ml *multiLogger) LogProgress(tasks []*models.Task) {
	for _, l := range ml.loggers {
		l.LogProgress(tasks)
	}
}

// LogSummary forwards to all loggers
func (ml *multiLogger) LogSummary(report *models.RunReport) {
	for _, l := range ml.loggers {
		l.LogSummary(report)
	}
}

// LogDebug forwards to all loggers
func (ml *multiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}

// LogInfo forwards to all loggers
func (ml *multiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}

// LogWarn forwards to all loggers
func (ml *multiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}

// LogError forwards to all loggers
func (ml *multiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}
