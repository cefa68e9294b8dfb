package spec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ferrolane/guild/internal/models"
)

// Parse turns a free-form description into a project. Input starting with
// "{" is parsed as a JSON document; anything else goes through keyword
// extraction with the stock defaults (project SimpleApp, fallback feature
// home_page).
func Parse(input string) (*models.Project, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var doc Document
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, fmt.Errorf("parse json specification: %w", err)
		}
		return Build(&doc)
	}
	return Build(extractDocument(trimmed))
}

var (
	projectNameRe   = regexp.MustCompile(`build\s+(?:an?\s+)?(\w+)`)
	featurePhraseRe = regexp.MustCompile(`(?:with|and)\s+(?:an?\s+)?(\w+(?:\s+\w+)*?\s+(?:page|feature))`)
	wordRe          = regexp.MustCompile(`\w+`)
)

// featureHints recognizes product nouns mentioned without a "... page"
// phrase, e.g. "an app with login and products".
var featureHints = []struct {
	keywords    []string
	name        string
	description string
}{
	{[]string{"login", "signin", "auth"}, "user_login", "User login"},
	{[]string{"checkout", "cart", "payment"}, "checkout", "Checkout flow"},
	{[]string{"product", "catalog", "shop"}, "product_catalog", "Product catalog"},
	{[]string{"blog", "post"}, "blog", "Blog"},
	{[]string{"admin", "dashboard"}, "admin_dashboard", "Admin dashboard"},
}

// constraintHints maps feature-name keywords to the constraint tags the
// graph builder understands.
var constraintHints = []struct {
	keywords []string
	tags     []string
}{
	{[]string{"checkout", "cart", "payment", "order"}, []string{"secure_login", "use_a_database", "business_critical"}},
	{[]string{"login", "signin", "auth", "account"}, []string{"secure_login"}},
	{[]string{"admin", "dashboard"}, []string{"secure_login"}},
	{[]string{"product", "catalog", "blog", "inventory", "search"}, []string{"use_a_database"}},
}

// extractDocument builds a document from a plain-language description.
func extractDocument(input string) *Document {
	lower := strings.ToLower(input)

	doc := &Document{
		Project: ProjectDoc{
			Name: "SimpleApp",
			TechStack: StackDoc{
				Backend:  "Python/Flask",
				Frontend: "HTML/CSS",
			},
		},
	}

	// "build a <name>" names the project
	projectToken := ""
	if m := projectNameRe.FindStringSubmatch(lower); m != nil {
		projectToken = m[1]
		doc.Project.Name = upperFirst(m[1])
	}

	// Explicit "... page" / "... feature" phrases
	for _, m := range featurePhraseRe.FindAllStringSubmatch(lower, -1) {
		phrase := m[1]
		name := strings.ReplaceAll(phrase, " ", "_")
		doc.Features = append(doc.Features, FeatureDoc{
			Name:        name,
			Description: upperFirst(phrase),
			Constraints: inferConstraints(name),
		})
	}

	// Bare keywords, skipping anything a phrase already covers and the
	// project name itself
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w] = true
	}
	for _, hint := range featureHints {
		if hasFeature(doc.Features, hint.name) || coveredByPhrase(doc.Features, hint.keywords) {
			continue
		}
		for _, kw := range hint.keywords {
			if kw == projectToken {
				continue
			}
			if words[kw] || words[kw+"s"] {
				doc.Features = append(doc.Features, FeatureDoc{
					Name:        hint.name,
					Description: hint.description,
					Constraints: inferConstraints(hint.name),
				})
				break
			}
		}
	}

	if !hasFeature(doc.Features, "home_page") {
		doc.Features = append(doc.Features, FeatureDoc{
			Name:        "home_page",
			Description: "Home page with welcome message",
		})
	}

	return doc
}

// inferConstraints derives constraint tags from a feature name.
func inferConstraints(name string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, hint := range constraintHints {
		for _, kw := range hint.keywords {
			if !strings.Contains(name, kw) {
				continue
			}
			for _, tag := range hint.tags {
				if !seen[tag] {
					seen[tag] = true
					tags = append(tags, tag)
				}
			}
			break
		}
	}
	return tags
}

func hasFeature(features []FeatureDoc, name string) bool {
	for _, f := range features {
		if f.Name == name {
			return true
		}
	}
	return false
}

// coveredByPhrase reports whether an extracted phrase feature already
// mentions any of the keywords, so "login page" suppresses the user_login
// hint.
func coveredByPhrase(features []FeatureDoc, keywords []string) bool {
	for _, f := range features {
		for _, kw := range keywords {
			if strings.Contains(f.Name, kw) {
				return true
			}
		}
	}
	return false
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
