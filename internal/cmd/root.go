package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for guild
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guild",
		Short: "Iterative multi-agent build orchestrator",
		Long: `Guild turns a project specification into an approved feature set by
orchestrating capability agents over a task dependency graph.

It loads specifications (YAML, JSON, Markdown or an inline description),
synthesizes a per-feature task chain (design, implement, test, review plus
whatever the feature's constraint tags require), and iterates
schedule/dispatch/evaluate cycles until every feature is approved, rejected
or blocked.`,
		Version: Version,
		// Errors are printed once, by main
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewDepsCommand())
	cmd.AddCommand(NewAuditCommand())

	return cmd
}
