package models

import "testing"

func TestTaskID(t *testing.T) {
	if got := TaskID("checkout", CapDesign); got != "checkout/design" {
		t.Errorf("expected checkout/design, got: %s", got)
	}
	if got := RemediationID("checkout", CapTest, 3); got != "checkout/test#3" {
		t.Errorf("expected checkout/test#3, got: %s", got)
	}
}

func TestTask_Validate(t *testing.T) {
	task := Task{ID: "home_page/design", Capability: CapDesign, Feature: "home_page"}
	if err := task.Validate(); err != nil {
		t.Errorf("expected valid task, got: %v", err)
	}

	missing := []Task{
		{Capability: CapDesign, Feature: "home_page"},
		{ID: "home_page/design", Feature: "home_page"},
		{ID: "home_page/design", Capability: CapDesign},
	}
	for i, task := range missing {
		if err := task.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestTask_DependsOnTask(t *testing.T) {
	task := Task{
		ID:        "checkout/implement",
		DependsOn: []string{"checkout/design", "checkout/schema_design"},
	}
	if !task.DependsOnTask("checkout/design") {
		t.Error("expected dependency on checkout/design")
	}
	if task.DependsOnTask("checkout/test") {
		t.Error("unexpected dependency on checkout/test")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{TaskSucceeded, TaskFailed, TaskSkipped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []TaskStatus{TaskPending, TaskReady, TaskRunning}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestFeatureStatus_Terminal(t *testing.T) {
	terminal := []FeatureStatus{FeatureApproved, FeatureBlocked, FeatureRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []FeatureStatus{FeatureTodo, FeatureDesigning, FeatureImplementing, FeatureTesting, FeatureReviewing}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestProject_Lookups(t *testing.T) {
	p := &Project{
		Name: "ShopSphere",
		Features: []*Feature{
			{Name: "home_page"},
			{Name: "checkout", Constraints: []string{"secure_login"}},
		},
		Tasks: []*Task{
			{ID: "home_page/design", Capability: CapDesign, Feature: "home_page"},
			{ID: "checkout/design", Capability: CapDesign, Feature: "checkout"},
			{ID: "checkout/implement", Capability: CapImplement, Feature: "checkout"},
		},
	}

	if f := p.Feature("checkout"); f == nil || !f.HasConstraint("secure_login") {
		t.Error("expected checkout feature with secure_login constraint")
	}
	if p.Feature("missing") != nil {
		t.Error("expected nil for unknown feature")
	}
	if task := p.Task("checkout/implement"); task == nil || task.Capability != CapImplement {
		t.Error("expected checkout/implement task")
	}
	if got := len(p.FeatureTasks("checkout")); got != 2 {
		t.Errorf("expected 2 checkout tasks, got: %d", got)
	}
}
