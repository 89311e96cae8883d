package types

import (
	"strings"
	"testing"
)

func TestLegacyIssueValidation(t *testing.T) {
	tests := []struct {
		name    string
		issue   LegacyIssue
		wantErr bool
		errMsg  string
	}{
		{
			name:  "valid issue",
			issue: LegacyIssue{ID: 12, Project: "Core", Summary: "Crash on save"},
		},
		{
			name:    "zero id",
			issue:   LegacyIssue{Project: "Core", Summary: "Crash on save"},
			wantErr: true,
			errMsg:  "issue id must be positive",
		},
		{
			name:    "missing summary",
			issue:   LegacyIssue{ID: 12, Project: "Core", Summary: "   "},
			wantErr: true,
			errMsg:  "summary is required",
		},
		{
			name:    "missing project",
			issue:   LegacyIssue{ID: 12, Summary: "Crash on save"},
			wantErr: true,
			errMsg:  "project is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.issue.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestMigrationTag(t *testing.T) {
	if got := MigrationTag(42); got != "Mantis-42" {
		t.Errorf("MigrationTag(42) = %q", got)
	}
	issue := LegacyIssue{ID: 7}
	if got := issue.Tag(); got != "Mantis-7" {
		t.Errorf("Tag() = %q", got)
	}
}

func TestWorkItemHasTagIsExact(t *testing.T) {
	item := WorkItem{Tags: []string{"Mantis-10", "project-Core"}}
	if item.HasTag("Mantis-1") {
		t.Error("Mantis-1 must not match Mantis-10")
	}
	if !item.HasTag("mantis-10") {
		t.Error("tag match should be case-insensitive")
	}
}

func TestLegacyUserLabel(t *testing.T) {
	tests := []struct {
		user LegacyUser
		want string
	}{
		{LegacyUser{Username: "jdoe", RealName: "Jane Doe"}, "Jane Doe (jdoe)"},
		{LegacyUser{Username: "jdoe"}, "jdoe"},
		{LegacyUser{RealName: "Jane Doe"}, "Jane Doe"},
		{LegacyUser{Email: "jane@example.com"}, "jane@example.com"},
		{LegacyUser{}, "Unknown User"},
	}
	for _, tt := range tests {
		if got := tt.user.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseTags(t *testing.T) {
	got := ParseTags("Mantis-1; project-Core;;  category-UI ")
	want := []string{"Mantis-1", "project-Core", "category-UI"}
	if len(got) != len(want) {
		t.Fatalf("ParseTags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseTags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ParseTags("  ") != nil {
		t.Error("empty tag string should parse to nil")
	}
	if JoinTags(want) != "Mantis-1; project-Core; category-UI" {
		t.Errorf("JoinTags() = %q", JoinTags(want))
	}
}

func TestParseState(t *testing.T) {
	if s, ok := ParseState("resolved"); !ok || s != StateResolved {
		t.Errorf("ParseState(resolved) = %q, %v", s, ok)
	}
	if s, ok := ParseState("In Review"); ok || s != "In Review" {
		t.Errorf("ParseState(In Review) = %q, %v", s, ok)
	}
	if !StateClosed.IsValid() || State("Done").IsValid() {
		t.Error("IsValid mismatch")
	}
}

func TestParseWorkItemType(t *testing.T) {
	if typ, ok := ParseWorkItemType(" FEATURE "); !ok || typ != TypeFeature {
		t.Errorf("ParseWorkItemType(FEATURE) = %q, %v", typ, ok)
	}
	if _, ok := ParseWorkItemType("epic"); ok {
		t.Error("epic should not parse")
	}
}

func TestRelationshipString(t *testing.T) {
	r := LegacyRelationship{SourceID: 3, TargetID: 9, Type: "duplicate of"}
	if got := r.String(); got != "Mantis-3 duplicate of Mantis-9" {
		t.Errorf("String() = %q", got)
	}
	r.Type = ""
	if got := r.String(); got != "Mantis-3 related to Mantis-9" {
		t.Errorf("String() = %q", got)
	}
}
