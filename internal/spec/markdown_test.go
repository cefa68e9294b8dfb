package spec

import (
	"strings"
	"testing"
)

func TestMarkdownParseFullDocument(t *testing.T) {
	input := `# Project: WebShop

Backend: Python/Flask
Frontend: HTML/CSS
Database: sqlite

## Feature: user_login

Email and password login for customers.
Sessions expire after an hour.

Constraints: secure_login, use_a_database

## Feature: Home Page

Landing page with a welcome message.
`
	doc, err := NewMarkdownParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Project.Name != "WebShop" {
		t.Errorf("Expected project WebShop, got %q", doc.Project.Name)
	}
	if doc.Project.TechStack.Backend != "Python/Flask" {
		t.Errorf("Expected backend Python/Flask, got %q", doc.Project.TechStack.Backend)
	}
	if doc.Project.TechStack.Database != "sqlite" {
		t.Errorf("Expected database sqlite, got %q", doc.Project.TechStack.Database)
	}

	if len(doc.Features) != 2 {
		t.Fatalf("Expected 2 features, got %d: %+v", len(doc.Features), doc.Features)
	}

	login := doc.Features[0]
	if login.Name != "user_login" {
		t.Errorf("Expected user_login, got %q", login.Name)
	}
	wantDesc := "Email and password login for customers. Sessions expire after an hour."
	if login.Description != wantDesc {
		t.Errorf("Expected description %q, got %q", wantDesc, login.Description)
	}
	if len(login.Constraints) != 2 || login.Constraints[0] != "secure_login" || login.Constraints[1] != "use_a_database" {
		t.Errorf("Expected [secure_login use_a_database], got %v", login.Constraints)
	}

	home := doc.Features[1]
	if home.Name != "home_page" {
		t.Errorf("Expected heading normalized to home_page, got %q", home.Name)
	}
	if len(home.Constraints) != 0 {
		t.Errorf("Expected no constraints, got %v", home.Constraints)
	}
}

func TestMarkdownConstraintList(t *testing.T) {
	input := `# Project: WebShop

Backend: Python/Flask
Frontend: HTML/CSS

## Feature: checkout

Checkout flow with payment capture.

Constraints:

- secure_login
- use_a_database
- business_critical
`
	doc, err := NewMarkdownParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(doc.Features) != 1 {
		t.Fatalf("Expected 1 feature, got %d", len(doc.Features))
	}
	got := doc.Features[0].Constraints
	want := []string{"secure_login", "use_a_database", "business_critical"}
	if len(got) != len(want) {
		t.Fatalf("Expected constraints %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected constraints %v, got %v", want, got)
			break
		}
	}
}

func TestMarkdownIgnoresUnrelatedSections(t *testing.T) {
	input := `# Project: WebShop

Backend: Python/Flask
Frontend: HTML/CSS

## Notes

This section is not a feature.

## Feature: home_page

Landing page.

### Details

Subheadings stay part of the document but open no feature.
`
	doc, err := NewMarkdownParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(doc.Features) != 1 || doc.Features[0].Name != "home_page" {
		t.Errorf("Expected only home_page, got %+v", doc.Features)
	}
	if doc.Features[0].Description != "Landing page." {
		t.Errorf("Expected description from feature section only, got %q", doc.Features[0].Description)
	}
}

func TestMarkdownMissingProjectFailsBuild(t *testing.T) {
	input := `## Feature: home_page

Landing page.
`
	doc, err := NewMarkdownParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, err := Build(doc); err == nil {
		t.Fatal("Expected Build to reject document without project name")
	}
}
