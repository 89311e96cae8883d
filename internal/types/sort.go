package types

import (
	"sort"
	"strings"
)

// SortComments orders comments by submission time. Comments with equal
// timestamps keep their bugnote ID order.
func SortComments(comments []LegacyComment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})
}

// SortedComments returns a sorted copy of the issue's comments.
func (i *LegacyIssue) SortedComments() []LegacyComment {
	out := make([]LegacyComment, len(i.Comments))
	copy(out, i.Comments)
	SortComments(out)
	return out
}

// SortIssues orders issues by ascending legacy ID.
func SortIssues(issues []LegacyIssue) {
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].ID < issues[j].ID
	})
}

// Filter narrows a set of legacy issues before migration.
type Filter struct {
	Project string // case-insensitive project name; empty matches all
	IssueID int    // single issue; zero matches all
	Only    map[int]bool
	Limit   int
}

// Matches reports whether an issue passes the project, ID and allow-list
// constraints. Limit is applied by Apply.
func (f Filter) Matches(issue *LegacyIssue) bool {
	if f.IssueID != 0 && issue.ID != f.IssueID {
		return false
	}
	if f.Project != "" && !strings.EqualFold(strings.TrimSpace(issue.Project), strings.TrimSpace(f.Project)) {
		return false
	}
	if f.Only != nil && !f.Only[issue.ID] {
		return false
	}
	return true
}

// Apply returns the matching issues in ID order, capped at Limit.
func (f Filter) Apply(issues []LegacyIssue) []LegacyIssue {
	var out []LegacyIssue
	for i := range issues {
		if !f.Matches(&issues[i]) {
			continue
		}
		out = append(out, issues[i])
	}
	SortIssues(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
