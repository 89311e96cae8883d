package mapping

import (
	"errors"
	"strings"
	"testing"

	"github.com/mantis2ado/mantis2ado/internal/types"
	"github.com/mantis2ado/mantis2ado/internal/workflow"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		label string
		want  types.State
	}{
		{"new", types.StateNew},
		{"feedback", types.StateNew},
		{"acknowledged", types.StateNew},
		{"confirmed", types.StateActive},
		{"assigned", types.StateActive},
		{"resolved", types.StateResolved},
		{"delivered", types.StateResolved},
		{"closed", types.StateClosed},
		{" Closed ", types.StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := MapStatus(tt.label)
			if err != nil {
				t.Fatalf("MapStatus(%q) error: %v", tt.label, err)
			}
			if got != tt.want {
				t.Errorf("MapStatus(%q) = %q, want %q", tt.label, got, tt.want)
			}
		})
	}
}

func TestMapStatusUnknown(t *testing.T) {
	for _, label := range []string{"", "wontfix", "suspended"} {
		_, err := MapStatus(label)
		var unmapped *UnmappedStatusError
		if !errors.As(err, &unmapped) {
			t.Errorf("MapStatus(%q) error = %v, want UnmappedStatusError", label, err)
		}
	}
}

func TestMapPriority(t *testing.T) {
	tests := []struct {
		code        int
		want        int
		wantClamped bool
	}{
		{10, 4, false},
		{20, 3, false},
		{30, 3, false},
		{40, 2, false},
		{50, 2, false},
		{60, 1, false},
		{0, 4, true},
		{5, 4, true},
		{70, 1, true},
	}
	for _, tt := range tests {
		got, clamped := MapPriority(tt.code)
		if got != tt.want || clamped != tt.wantClamped {
			t.Errorf("MapPriority(%d) = (%d, %v), want (%d, %v)", tt.code, got, clamped, tt.want, tt.wantClamped)
		}
	}
}

func TestMapPriorityIsMonotonicReversing(t *testing.T) {
	prev, _ := MapPriority(LegacyPriorityMin)
	for code := LegacyPriorityMin + 1; code <= LegacyPriorityMax; code++ {
		got, _ := MapPriority(code)
		if got > prev {
			t.Fatalf("MapPriority(%d) = %d rose above MapPriority(%d) = %d", code, got, code-1, prev)
		}
		prev = got
	}
}

func TestMapWorkItemType(t *testing.T) {
	tests := map[string]types.WorkItemType{
		"feature": types.TypeFeature,
		"text":    types.TypeTask,
		"trivial": types.TypeBug,
		"crash":   types.TypeBug,
		"block":   types.TypeBug,
		"":        types.TypeBug,
		"unknown": types.TypeBug,
	}
	for severity, want := range tests {
		if got := MapWorkItemType(severity); got != want {
			t.Errorf("MapWorkItemType(%q) = %q, want %q", severity, got, want)
		}
	}
}

func TestStatusLabelFallsBackToCode(t *testing.T) {
	if got := StatusLabel(types.CodeLabel{Code: 80}); got != "resolved" {
		t.Errorf("StatusLabel(80) = %q", got)
	}
	if got := StatusLabel(types.CodeLabel{Code: 80, Label: "Delivered"}); got != "delivered" {
		t.Errorf("label should win, got %q", got)
	}
	if got := StatusLabel(types.CodeLabel{Code: 61}); got != "" {
		t.Errorf("unknown code should be empty, got %q", got)
	}
	if got := SeverityLabel(types.CodeLabel{Code: 10}); got != "feature" {
		t.Errorf("SeverityLabel(10) = %q", got)
	}
	if got := PriorityCode(types.CodeLabel{Label: "Urgent"}); got != 50 {
		t.Errorf("PriorityCode(Urgent) = %d", got)
	}
}

func TestBuildTags(t *testing.T) {
	issue := &types.LegacyIssue{
		ID:       42,
		Project:  "Core",
		Category: "UI; Forms",
		Tags:     []string{"regression", "", "Perf", "regression"},
	}
	got := BuildTags(issue)
	want := []string{"Mantis-42", "project-Core", "category-UI, Forms", "mantis-tag-Perf", "mantis-tag-regression"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("BuildTags() = %v, want %v", got, want)
	}

	noCategory := BuildTags(&types.LegacyIssue{ID: 1, Project: "Web"})
	if strings.Join(noCategory, "|") != "Mantis-1|project-Web" {
		t.Errorf("BuildTags() without category = %v", noCategory)
	}
}

func TestBuildFieldsBug(t *testing.T) {
	issue := &types.LegacyIssue{
		ID:                    1,
		Summary:               "  Crash <on> save ",
		Description:           "line one\nline two",
		StepsToReproduce:      "click\nsave",
		AdditionalInformation: "seen on 2.1",
	}
	fields := BuildFields(issue, types.TypeBug, 2)

	if fields.Title != "Crash <on> save" {
		t.Errorf("Title = %q", fields.Title)
	}
	if fields.ReproSteps != "click<br>save" {
		t.Errorf("ReproSteps = %q", fields.ReproSteps)
	}
	wantDesc := "line one<br>line two<br><br><strong>Additional Information:</strong><br>seen on 2.1"
	if fields.Description != wantDesc {
		t.Errorf("Description = %q, want %q", fields.Description, wantDesc)
	}
	if fields.Priority != 2 {
		t.Errorf("Priority = %d", fields.Priority)
	}
}

func TestBuildFieldsNonBugFoldsSections(t *testing.T) {
	issue := &types.LegacyIssue{
		ID:               1,
		Summary:          "Add export",
		StepsToReproduce: "a < b",
	}
	fields := BuildFields(issue, types.TypeFeature, 3)
	if fields.ReproSteps != "" {
		t.Errorf("ReproSteps should be empty for features, got %q", fields.ReproSteps)
	}
	if fields.Description != "<strong>Steps to Reproduce:</strong><br>a &lt; b" {
		t.Errorf("Description = %q", fields.Description)
	}
}

func TestMapperMapNarrowsResolved(t *testing.T) {
	m := Default()
	issue := &types.LegacyIssue{
		ID:       9,
		Summary:  "Fix typo",
		Status:   types.CodeLabel{Code: 80, Label: "resolved"},
		Severity: types.CodeLabel{Label: "text"},
		Priority: types.CodeLabel{Code: 40},
	}
	res, err := m.Map(issue)
	if err != nil {
		t.Fatalf("Map() error: %v", err)
	}
	if res.Type != types.TypeTask {
		t.Errorf("Type = %q", res.Type)
	}
	if res.State != types.StateClosed {
		t.Errorf("State = %q, want Closed for a Task", res.State)
	}
	if res.Fields.State != types.StateNew {
		t.Errorf("initial State = %q", res.Fields.State)
	}
	if res.Priority != 2 || res.PriorityClamped {
		t.Errorf("Priority = %d clamped=%v", res.Priority, res.PriorityClamped)
	}
}

func TestMapperMapUnmappedStatusCarriesID(t *testing.T) {
	_, err := Default().Map(&types.LegacyIssue{ID: 77, Summary: "x", Status: types.CodeLabel{Code: 60}})
	var unmapped *UnmappedStatusError
	if !errors.As(err, &unmapped) {
		t.Fatalf("Map() error = %v, want UnmappedStatusError", err)
	}
	if unmapped.LegacyID != 77 || unmapped.Status != "60" {
		t.Errorf("unexpected error fields %+v", unmapped)
	}
}

func TestNewWithOverrides(t *testing.T) {
	m, err := New(workflow.DefaultPaths(), Overrides{
		Status: map[string]string{"Suspended": "active", "acknowledged": "Active"},
		Type:   map[string]string{"tweak": "Task"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s, _ := m.MapStatus("suspended"); s != types.StateActive {
		t.Errorf("override suspended = %q", s)
	}
	if s, _ := m.MapStatus("acknowledged"); s != types.StateActive {
		t.Errorf("override acknowledged = %q", s)
	}
	if typ := m.MapWorkItemType("Tweak"); typ != types.TypeTask {
		t.Errorf("override tweak = %q", typ)
	}
	// Package-level defaults are untouched.
	if s, _ := MapStatus("acknowledged"); s != types.StateNew {
		t.Errorf("default acknowledged = %q", s)
	}
}

func TestNewRejectsBadOverrides(t *testing.T) {
	_, err := New(nil, Overrides{Status: map[string]string{"testing": "Verified"}})
	var unmappedStatus *UnmappedStatusError
	if !errors.As(err, &unmappedStatus) {
		t.Errorf("unknown state override error = %v", err)
	}

	_, err = New(nil, Overrides{Type: map[string]string{"major": "Epic"}})
	var unmappedType *UnmappedTypeError
	if !errors.As(err, &unmappedType) {
		t.Errorf("unknown type override error = %v", err)
	}

	paths := workflow.DefaultPaths()
	paths[types.TypeBug] = []types.State{types.StateNew, "Verified", types.StateClosed}
	if _, err := New(paths, Overrides{Status: map[string]string{"testing": "Verified"}}); err != nil {
		t.Errorf("state present on a custom path should be accepted: %v", err)
	}
}
