// Package resolver compares installed package versions against the version
// ranges a project requires. It is a standalone check: the engine runs it
// before implementation tasks are scheduled and turns conflicts into blocked
// features, but nothing here mutates project state.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// NotInstalled is the Installed value reported when a required package is
// absent from the installed table.
const NotInstalled = "not installed"

// Conflict is one package whose installed version does not satisfy the
// required range.
type Conflict struct {
	Package   string `json:"package"`
	Installed string `json:"installed"`
	Required  string `json:"required"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: installed %s, required %s", c.Package, c.Installed, c.Required)
}

// Check compares each required package's range against the installed table
// and returns the mismatches ordered by package name. A missing package is a
// conflict, not an error; errors are reserved for ranges or versions that
// cannot be parsed at all.
//
// Ranges use semver constraint syntax. The pip-style exact pin "==1.2.3" is
// accepted and an empty range means any installed version.
func Check(installed, required map[string]string) ([]Conflict, error) {
	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	var conflicts []Conflict
	for _, name := range names {
		spec := strings.TrimSpace(required[name])

		constraint, err := semver.NewConstraint(normalizeRange(spec))
		if err != nil {
			return nil, fmt.Errorf("requirement %s: invalid version range %q: %w", name, spec, err)
		}

		have, ok := installed[name]
		if !ok || strings.TrimSpace(have) == "" {
			conflicts = append(conflicts, Conflict{Package: name, Installed: NotInstalled, Required: spec})
			continue
		}

		version, err := semver.NewVersion(strings.TrimSpace(have))
		if err != nil {
			return nil, fmt.Errorf("package %s: invalid installed version %q: %w", name, have, err)
		}

		if !constraint.Check(version) {
			conflicts = append(conflicts, Conflict{Package: name, Installed: strings.TrimSpace(have), Required: spec})
		}
	}

	return conflicts, nil
}

// Remediations renders one upgrade command per conflict for the given
// package manager ("pip" when empty). The commands are advisory output for
// the operator; nothing runs them.
func Remediations(conflicts []Conflict, manager string) []string {
	if manager == "" {
		manager = "pip"
	}

	commands := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		commands = append(commands, fmt.Sprintf("%s install --upgrade '%s'", manager, requirementArg(c)))
	}
	return commands
}

// normalizeRange maps requirement spellings onto semver constraint syntax.
func normalizeRange(spec string) string {
	if spec == "" {
		return "*"
	}
	return strings.ReplaceAll(spec, "==", "=")
}

// requirementArg rebuilds the requirement string for an install command,
// pinning bare versions exactly.
func requirementArg(c Conflict) string {
	spec := c.Required
	switch {
	case spec == "" || spec == "*":
		return c.Package
	case spec[0] >= '0' && spec[0] <= '9':
		return c.Package + "==" + spec
	default:
		return c.Package + spec
	}
}
