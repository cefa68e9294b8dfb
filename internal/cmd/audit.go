package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ferrolane/guild/internal/auditlog"
	"github.com/ferrolane/guild/internal/config"
	"github.com/ferrolane/guild/internal/filelock"
	"github.com/ferrolane/guild/internal/models"
	"github.com/spf13/cobra"
)

// NewAuditCommand creates the 'guild audit' command group
func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect recorded runs",
		Long: `Inspect the audit log of past orchestration runs.

Every run appends its task outcomes and feature verdicts to the audit
database under the guild home. The audit commands read that history:

  guild audit show              # List recent runs
  guild audit show --run a1b2   # Full history for one run
  guild audit export --run a1b2 # Dump one run as JSON`,
	}

	cmd.AddCommand(newAuditShowCommand())
	cmd.AddCommand(newAuditExportCommand())

	return cmd
}

func newAuditShowCommand() *cobra.Command {
	var runID string
	var limit int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recorded runs or the detail of one run",
		Long: `Display recorded orchestration runs from the audit log.

Without --run, lists the most recent runs. With --run, shows the full
history of one run: the feature verdicts and every task outcome in the
order the controller applied them.

Examples:
  # List the last 20 runs
  guild audit show

  # Full history for one run, by unique id prefix
  guild audit show --run a1b2c3d4

  # Read a copied database
  guild audit show --db /tmp/audit.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditShow(cmd, runID, limit, dbPath)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id (or unique prefix)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to audit database (default: from config)")
	cmd.Flags().String("config", "", "Path to config file (default: .guild/config.yaml)")

	return cmd
}

func runAuditShow(cmd *cobra.Command, runID string, limit int, dbPathOverride string) error {
	output := cmd.OutOrStdout()

	dbPath, err := auditDBPath(cmd, dbPathOverride)
	if err != nil {
		return err
	}

	// Opening the store would create an empty database here
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(output, "No audit data found at %s\n", dbPath)
		return nil
	}

	store, err := auditlog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer store.Close()

	if runID == "" {
		return printRunList(output, store, limit)
	}
	return printRunDetail(output, store, runID)
}

func newAuditExportCommand() *cobra.Command {
	var runID string
	var outPath string
	var dbPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the full record of one run as JSON",
		Long: `Export the full record of one run as JSON.

The export bundles the run summary, the feature verdicts and every task
event. If no output file is specified, the JSON is written to stdout.

Examples:
  # Export to stdout
  guild audit export --run a1b2c3d4

  # Export to a file
  guild audit export --run a1b2c3d4 --out run.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditExport(cmd, runID, outPath, dbPath)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id (or unique prefix)")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (stdout if not specified)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to audit database (default: from config)")
	cmd.Flags().String("config", "", "Path to config file (default: .guild/config.yaml)")
	cmd.MarkFlagRequired("run")

	return cmd
}

func runAuditExport(cmd *cobra.Command, runID, outPath, dbPathOverride string) error {
	dbPath, err := auditDBPath(cmd, dbPathOverride)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no audit data found at %s", dbPath)
	}

	store, err := auditlog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer store.Close()

	export, err := store.Export(runID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	if outPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := filelock.AtomicWrite(outPath, data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported run %s to %s\n", shortID(export.Run.RunID), outPath)
	return nil
}

// auditDBPath resolves the audit database location: the --db override if
// given, otherwise the configured path under the guild home.
func auditDBPath(cmd *cobra.Command, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	home, err := config.GuildHome()
	if err != nil {
		return "", err
	}
	cfg, err := loadConfigFile(cmd, home)
	if err != nil {
		return "", err
	}
	return config.ResolvePath(home, cfg.Audit.DBPath), nil
}

// printRunList renders the recent runs table, most recent first.
func printRunList(w io.Writer, store *auditlog.Store, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "%-10s %-20s %-12s %5s %4s %5s %5s  %-19s %10s\n",
		"RUN", "PROJECT", "STATUS", "ITER", "OK", "FAIL", "SKIP", "STARTED", "DURATION")

	for _, run := range runs {
		fmt.Fprintf(w, "%-10s %-20s %-12s %5d %4d %5d %5d  %-19s %10s\n",
			shortID(run.RunID),
			truncateString(run.Project, 20),
			run.Status,
			run.Iterations,
			run.Succeeded,
			run.Failed,
			run.Skipped,
			formatTimestamp(run.StartedAt),
			run.Duration.Round(time.Millisecond))
	}
	return nil
}

// printRunDetail renders the feature verdicts and task history of one run.
func printRunDetail(w io.Writer, store *auditlog.Store, runID string) error {
	run, err := store.Run(runID)
	if err != nil {
		return err
	}

	features, err := store.FeatureOutcomes(run.RunID)
	if err != nil {
		return err
	}

	records, err := store.TaskEvents(run.RunID)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "\n=== Run %s: %s ===\n\n", shortID(run.RunID), run.Project)
	fmt.Fprintf(w, "Run id:     %s\n", run.RunID)
	fmt.Fprintf(w, "Status:     ")
	statusColor(run.Status).Fprintf(w, "%s", run.Status)
	if run.Cause != "" {
		gray.Fprintf(w, " (%s)", run.Cause)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Iterations: %d\n", run.Iterations)
	fmt.Fprintf(w, "Tasks:      %d succeeded, %d failed, %d skipped\n",
		run.Succeeded, run.Failed, run.Skipped)
	fmt.Fprintf(w, "Started:    %s ", formatTimestamp(run.StartedAt))
	gray.Fprintf(w, "(%s ago)\n", formatDuration(time.Since(run.StartedAt)))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:   %s\n", run.Duration.Round(time.Millisecond))
	}

	if len(features) > 0 {
		cyan.Fprintf(w, "\nFeatures:\n")
		for _, f := range features {
			fmt.Fprintf(w, "  %-24s ", f.Name)
			featureColor(f.Status).Fprintf(w, "%-10s", f.Status)
			if f.Reason != "" {
				gray.Fprintf(w, " %s", truncateString(f.Reason, 80))
			}
			fmt.Fprintln(w)
		}
	}

	if len(records) > 0 {
		cyan.Fprintf(w, "\nTask history:\n")
		for _, rec := range records {
			fmt.Fprintf(w, "  [%d] %-32s attempt %d  ", rec.Iteration, rec.TaskID, rec.Attempt)
			outcomeColor(rec.Outcome).Fprintf(w, "%-8s", rec.Outcome)
			gray.Fprintf(w, " (%s)\n", rec.Duration.Round(time.Millisecond))
			if rec.Detail != "" {
				detail := strings.ReplaceAll(strings.TrimSpace(rec.Detail), "\n", " ")
				gray.Fprintf(w, "      %s\n", truncateString(detail, 200))
			}
		}
	}

	fmt.Fprintln(w)
	return nil
}

func statusColor(status string) *color.Color {
	switch models.ProjectStatus(status) {
	case models.ProjectConverged:
		return color.New(color.FgGreen)
	case models.ProjectFailed, models.ProjectAbandoned:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func featureColor(status models.FeatureStatus) *color.Color {
	switch status {
	case models.FeatureApproved:
		return color.New(color.FgGreen)
	case models.FeatureRejected:
		return color.New(color.FgRed)
	case models.FeatureBlocked:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}

func outcomeColor(outcome models.Outcome) *color.Color {
	switch outcome {
	case models.OutcomeSuccess:
		return color.New(color.FgGreen)
	case models.OutcomeRevise:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// shortID abbreviates a run id to its first uuid group.
func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatTimestamp formats a timestamp for display
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatDuration formats a duration for human-readable display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
