package cmd

import (
	"fmt"

	"github.com/ferrolane/guild/internal/config"
	"github.com/ferrolane/guild/internal/resolver"
	"github.com/spf13/cobra"
)

// NewDepsCommand creates the deps command group
func NewDepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Dependency table utilities",
		Long:  `Inspect the installed package table and check it against declared requirements.`,
	}

	cmd.AddCommand(newDepsCheckCommand())

	return cmd
}

func newDepsCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [spec-file-or-directory]",
		Short: "Check required version ranges against installed packages",
		Long: `Check every declared requirement against the installed package table.

Requirements come from the specification's requirements map and --require
pairs; the installed table comes from config and --installed pairs. Flag
pairs override config and spec entries of the same name.

Conflicts are printed with advisory remediation commands. Nothing is
installed or upgraded automatically.

Examples:
  # Requirements from a spec file, installed table from config
  guild deps check webshop.yaml

  # Everything from flags
  guild deps check --installed flask=2.0.0 --require "flask=>=2.3.0"

  # Remediation for a different package manager
  guild deps check webshop.yaml --manager poetry

Exit code: 0 if all requirements are satisfied, 1 on conflict`,
		Args: cobra.MaximumNArgs(1),
		RunE: depsCheckCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .guild/config.yaml)")
	cmd.Flags().StringToString("installed", nil, "Installed package versions (name=version)")
	cmd.Flags().StringToString("require", nil, "Required version ranges (name=range)")
	cmd.Flags().String("manager", "pip", "Package manager named in remediation commands")

	return cmd
}

// depsCheckCommand implements the deps check logic
func depsCheckCommand(cmd *cobra.Command, args []string) error {
	output := cmd.OutOrStdout()

	home, err := config.GuildHome()
	if err != nil {
		return err
	}
	cfg, err := loadConfigFile(cmd, home)
	if err != nil {
		return err
	}

	installed := make(map[string]string)
	for name, version := range cfg.Installed {
		installed[name] = version
	}
	flagInstalled, _ := cmd.Flags().GetStringToString("installed")
	for name, version := range flagInstalled {
		installed[name] = version
	}

	required := make(map[string]string)
	if len(args) == 1 {
		project, _, err := loadProject(args, "")
		if err != nil {
			return err
		}
		for name, spec := range project.Requirements {
			required[name] = spec
		}
	}
	flagRequired, _ := cmd.Flags().GetStringToString("require")
	for name, spec := range flagRequired {
		required[name] = spec
	}

	if len(required) == 0 {
		fmt.Fprintf(output, "No requirements declared, nothing to check.\n")
		return nil
	}

	fmt.Fprintf(output, "Checking %d requirement(s) against %d installed package(s)\n\n", len(required), len(installed))

	conflicts, err := resolver.Check(installed, required)
	if err != nil {
		return err
	}

	if len(conflicts) == 0 {
		fmt.Fprintf(output, "✓ All requirements satisfied\n")
		return nil
	}

	for _, c := range conflicts {
		fmt.Fprintf(output, "✗ %s\n", c)
	}

	manager, _ := cmd.Flags().GetString("manager")
	fmt.Fprintf(output, "\nRemediation:\n")
	for _, command := range resolver.Remediations(conflicts, manager) {
		fmt.Fprintf(output, "  %s\n", command)
	}

	return &ExitError{Code: 1, Err: fmt.Errorf("%d dependency conflict(s)", len(conflicts))}
}
