// Package spec loads project specifications and turns them into the typed
// project model the engine runs. Specifications arrive as YAML, JSON or
// markdown files, a directory of those, or a free-form text phrase.
package spec

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ferrolane/guild/internal/fileutil"
	"github.com/ferrolane/guild/internal/models"
)

// Format represents the format of a specification file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatYAML represents a YAML (.yaml, .yml) specification file
	FormatYAML
	// FormatJSON represents a JSON (.json) specification file
	FormatJSON
	// FormatMarkdown represents a Markdown (.md, .markdown) specification file
	FormatMarkdown
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "markdown"
	default:
		return "unknown"
	}
}

// Document is the on-disk shape of a specification before validation. Every
// parser produces a Document; Build turns one into a models.Project.
type Document struct {
	Project  ProjectDoc   `yaml:"project" json:"project"`
	Features []FeatureDoc `yaml:"features" json:"features"`
	Tasks    []TaskDoc    `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// ProjectDoc carries the project header of a specification.
type ProjectDoc struct {
	Name         string            `yaml:"name" json:"name"`
	TechStack    StackDoc          `yaml:"tech_stack" json:"tech_stack"`
	Requirements map[string]string `yaml:"requirements,omitempty" json:"requirements,omitempty"`
}

// StackDoc names the declared technology choices.
type StackDoc struct {
	Backend  string `yaml:"backend" json:"backend"`
	Frontend string `yaml:"frontend" json:"frontend"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// FeatureDoc is one feature entry of a specification.
type FeatureDoc struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Constraints []string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// TaskDoc is one explicitly declared task, added to the graph alongside the
// synthesized per-feature chains. Dependencies may name chain task ids.
type TaskDoc struct {
	ID         string   `yaml:"id" json:"id"`
	Capability string   `yaml:"capability" json:"capability"`
	Feature    string   `yaml:"feature" json:"feature"`
	DependsOn  []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Parser is the interface all specification parsers implement
type Parser interface {
	// Parse reads from an io.Reader and returns the parsed Document
	Parse(r io.Reader) (*Document, error)
}

// DetectFormat detects the specification format from the file extension
// Supported extensions:
//   - .yaml, .yml -> FormatYAML
//   - .json -> FormatJSON
//   - .md, .markdown -> FormatMarkdown
//   - all others -> FormatUnknown
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}

// NewParser creates a new parser instance for the specified format
// Returns an error if the format is unknown or unsupported
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatYAML:
		return yamlParser{}, nil
	case FormatJSON:
		return jsonParser{}, nil
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

type yamlParser struct{}

func (yamlParser) Parse(r io.Reader) (*Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read specification: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml specification: %w", err)
	}
	return &doc, nil
}

type jsonParser struct{}

func (jsonParser) Parse(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse json specification: %w", err)
	}
	return &doc, nil
}

// Load reads a specification from a file or a directory of specification
// files and builds the project model. This is the recommended entry point
// for paths coming from the command line.
func Load(path string) (*models.Project, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("access specification: %w", err)
	}
	if info.IsDir() {
		return LoadDirectory(path)
	}

	doc, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

// LoadDirectory loads every specification file in dir and merges them into
// one project. The first file in sorted order is the base; later files add
// features and tasks and may override project fields.
func LoadDirectory(dir string) (*models.Project, error) {
	result, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{
		Extensions: []string{".yaml", ".yml", ".json", ".md"},
	})
	if err != nil {
		return nil, fmt.Errorf("scan specification directory: %w", err)
	}
	if len(result.Files) == 0 {
		return nil, fmt.Errorf("no specification files found in %s", dir)
	}

	docs := make([]*Document, 0, len(result.Files))
	for _, path := range result.Files {
		doc, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		docs = append(docs, doc)
	}

	merged, err := Merge(docs...)
	if err != nil {
		return nil, err
	}
	return Build(merged)
}

// loadFile parses a single specification file.
func loadFile(path string) (*Document, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported specification format: %s (supported: .yaml, .yml, .json, .md)", path)
	}

	parser, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open specification: %w", err)
	}
	defer file.Close()

	return parser.Parse(file)
}
