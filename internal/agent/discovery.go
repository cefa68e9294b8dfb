package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ferrolane/guild/internal/fileutil"
)

// Definition is the YAML frontmatter of an agent file: a markdown file whose
// header binds a capability to an external command. The markdown body is
// free-form documentation and is ignored.
type Definition struct {
	Name       string      `yaml:"name"`
	Capability string      `yaml:"capability"`
	Command    CommandLine `yaml:"command"`
	Timeout    string      `yaml:"timeout"` // optional duration string, e.g. "90s"
	FilePath   string      `yaml:"-"`
}

// CommandLine handles both frontmatter formats for the command field:
//   - a plain string: "scripts/design.sh --json"
//   - a YAML list: [scripts/design.sh, --json]
//
// The string form is split on whitespace; arguments needing quoting must use
// the list form.
type CommandLine []string

// UnmarshalYAML implements custom unmarshaling for CommandLine.
func (c *CommandLine) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		*c = CommandLine(strings.Fields(str))
		return nil
	}

	var arr []string
	if err := value.Decode(&arr); err == nil {
		*c = CommandLine(arr)
		return nil
	}

	return fmt.Errorf("command must be a string or a list of arguments")
}

// Discover scans dir for *.md agent definitions and registers an exec agent
// for each, overriding any built-in agent bound to the same capability. A
// missing directory yields no definitions and no error. Files that fail to
// parse are reported to stderr and skipped so one bad definition does not
// hide the rest.
func Discover(dir string, reg *Registry) ([]Definition, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	result, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{
		Extensions: []string{".md"},
	})
	if err != nil {
		return nil, fmt.Errorf("scan agents directory: %w", err)
	}
	for _, scanErr := range result.Errors {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", scanErr)
	}

	var defs []Definition
	for _, path := range result.Files {
		if filepath.Base(path) == "README.md" {
			continue
		}

		def, err := parseDefinition(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse %s: %v\n", path, err)
			continue
		}

		var timeout time.Duration
		if def.Timeout != "" {
			timeout, err = time.ParseDuration(def.Timeout)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %s: invalid timeout %q: %v\n", path, def.Timeout, err)
				continue
			}
		}

		reg.Register(NewExecAgent(def.Capability, def.Command, timeout))
		defs = append(defs, *def)
	}

	return defs, nil
}

// parseDefinition parses a single agent definition file.
func parseDefinition(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	frontmatter, _ := splitFrontmatter(content)
	if frontmatter == nil {
		return nil, fmt.Errorf("no frontmatter found")
	}

	var def Definition
	if err := yaml.Unmarshal(frontmatter, &def); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	def.FilePath = path

	if def.Capability == "" {
		return nil, fmt.Errorf("capability is required")
	}
	if len(def.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	return &def, nil
}

// splitFrontmatter splits markdown content into YAML frontmatter between
// --- markers and the remaining body.
func splitFrontmatter(content []byte) ([]byte, []byte) {
	lines := strings.Split(string(content), "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return nil, content
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatter := []byte(strings.Join(lines[1:i], "\n"))
			body := []byte(strings.Join(lines[i+1:], "\n"))
			return frontmatter, body
		}
	}

	return nil, content
}
