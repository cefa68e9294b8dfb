package cmd

import (
	"fmt"
	"io"

	"github.com/ferrolane/guild/internal/agent"
	"github.com/ferrolane/guild/internal/config"
	"github.com/ferrolane/guild/internal/engine"
	"github.com/ferrolane/guild/internal/logger"
	"github.com/ferrolane/guild/internal/models"
	"github.com/ferrolane/guild/internal/resolver"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [spec-file-or-directory]",
		Short: "Validate a specification without running it",
		Long: `Parse a project specification and check that a run could start:
  - Required fields (project name, tech stack, feature descriptions)
  - Feature specifications pass the validate_spec agent
  - The synthesized task graph is acyclic
  - Every capability in the graph has a registered agent
  - Declared requirements against the installed package table

The execution waves the run would dispatch are printed; --verbose lists
every task per wave.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.MaximumNArgs(1),
		RunE: validateCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .guild/config.yaml)")
	cmd.Flags().String("text", "", "Inline project description instead of a spec file")
	cmd.Flags().String("agents-dir", "", "Directory with agent definition files")
	cmd.Flags().Bool("verbose", false, "List every task in each wave")

	return cmd
}

// validateCommand implements the validate command logic
func validateCommand(cmd *cobra.Command, args []string) error {
	output := cmd.OutOrStdout()

	home, err := config.GuildHome()
	if err != nil {
		return err
	}
	cfg, err := loadConfigFile(cmd, home)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("agents-dir") {
		cfg.Agents.Dir, _ = cmd.Flags().GetString("agents-dir")
	}

	text, _ := cmd.Flags().GetString("text")
	project, source, err := loadProject(args, text)
	if err != nil {
		fmt.Fprintf(output, "✗ Failed to load specification\n")
		fmt.Fprintf(output, "  Error: %v\n", err)
		return fmt.Errorf("load error: %w", err)
	}

	fmt.Fprintf(output, "✓ Validating specification from %s\n", source)
	fmt.Fprintf(output, "✓ Parsed %d feature(s) successfully\n", len(project.Features))

	registry, err := buildRegistry(cfg, cmd.Flags().Changed("agents-dir"), logger.NewNoOpLogger())
	if err != nil {
		return err
	}

	var problems []string

	// Run each feature through the validate_spec agent
	problems = append(problems, validateFeatureSpecs(cmd, project, registry, output)...)

	// Synthesize the graph the run command would execute
	graph, err := engine.Synthesize(project, registry)
	if err != nil {
		problems = append(problems, err.Error())
	} else {
		fmt.Fprintf(output, "✓ All capabilities have registered agents\n")
		fmt.Fprintf(output, "✓ No circular dependencies detected\n")
	}

	// Dependency gate dry check
	if len(cfg.Installed) > 0 && len(project.Requirements) > 0 {
		conflicts, err := resolver.Check(cfg.Installed, project.Requirements)
		if err != nil {
			problems = append(problems, fmt.Sprintf("dependency check failed: %v", err))
		} else if len(conflicts) == 0 {
			fmt.Fprintf(output, "✓ All dependency requirements satisfied\n")
		} else {
			for _, c := range conflicts {
				problems = append(problems, fmt.Sprintf("dependency conflict: %s", c))
			}
		}
	}

	if graph != nil {
		printWaves(cmd, graph, output)
	}

	if len(problems) == 0 {
		fmt.Fprintf(output, "\n✓ Specification is valid!\n")
		return nil
	}

	fmt.Fprintf(output, "\n✗ Validation failed for specification from %s\n", source)
	for _, p := range problems {
		fmt.Fprintf(output, "  ✗ %s\n", p)
	}
	fmt.Fprintf(output, "\nFound %d validation error(s)!\n", len(problems))

	return fmt.Errorf("validation failed with %d error(s)", len(problems))
}

// validateFeatureSpecs dispatches every feature to the validate_spec agent
// and collects the ones it pushes back on.
func validateFeatureSpecs(cmd *cobra.Command, project *models.Project, registry *agent.Registry, output io.Writer) []string {
	validator, ok := registry.Resolve(models.CapValidateSpec)
	if !ok {
		return []string{fmt.Sprintf("no agent registered for capability %s", models.CapValidateSpec)}
	}

	var problems []string
	for _, f := range project.Features {
		result, err := validator.Execute(cmd.Context(), agent.Request{
			Feature: *f,
			Project: project.Name,
			Stack:   project.Stack,
		})
		if err != nil {
			problems = append(problems, fmt.Sprintf("feature %s: %v", f.Name, err))
			continue
		}
		switch result.Outcome {
		case models.OutcomeSuccess:
		case models.OutcomeRevise:
			problems = append(problems, fmt.Sprintf("feature %s: %s", f.Name, result.Feedback))
		default:
			problems = append(problems, fmt.Sprintf("feature %s: %s", f.Name, result.Cause))
		}
	}

	if len(problems) == 0 {
		fmt.Fprintf(output, "✓ Feature specifications pass validation\n")
	}
	return problems
}

// printWaves lists the dispatch waves the scheduler would run.
func printWaves(cmd *cobra.Command, graph *engine.TaskGraph, output io.Writer) {
	waves, err := graph.Waves()
	if err != nil {
		return
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	fmt.Fprintf(output, "\nExecution waves:\n")
	for i, wave := range waves {
		fmt.Fprintf(output, "  Wave %d: %d task(s)\n", i+1, len(wave))
		if verbose {
			for _, id := range wave {
				fmt.Fprintf(output, "    - %s\n", id)
			}
		}
	}
}
