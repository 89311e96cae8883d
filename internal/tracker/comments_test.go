package tracker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mantis2ado/mantis2ado/internal/identity"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

func comment(id int, author string, at time.Time, body string) types.LegacyComment {
	return types.LegacyComment{ID: id, Author: types.LegacyUser{Username: author}, SubmittedAt: at, Body: body}
}

func TestFormatComment(t *testing.T) {
	at := time.Date(2022, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	got := FormatComment(comment(1, "alice", at, "a < b\nnext"))
	assert.Equal(t, "<strong>[Comment by alice on 2022-01-02 02:04:05 UTC]</strong><br>a &lt; b<br>next", got)

	got = FormatComment(comment(2, "", time.Time{}, "x"))
	assert.Equal(t, "<strong>[Comment by Unknown User on Unknown Date]</strong><br>x", got)

	private := comment(3, "bob", at, "internal only")
	private.Private = true
	got = FormatComment(private)
	assert.Equal(t, "<strong>[Comment by bob on 2022-01-02 02:04:05 UTC]</strong> <em>(private)</em><br>internal only", got)

	missing, _ := MissingComments([]types.LegacyComment{private}, []types.Comment{{Text: got}})
	assert.Empty(t, missing, "a migrated private note is recognized")
}

func TestMissingComments_PrivateMarkerIgnored(t *testing.T) {
	at := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	note := comment(4, "bob", at, "internal only")
	note.Private = true

	// Migrated by an earlier tool that did not mark private notes.
	legacy := "<strong>[Comment by bob on 2022-01-02 03:04:05 UTC]</strong><br>internal only"
	missing, _ := MissingComments([]types.LegacyComment{note}, []types.Comment{{Text: legacy}})
	assert.Empty(t, missing)

	// A marked note still matches once the legacy note is made public.
	marked := FormatComment(note)
	note.Private = false
	missing, _ = MissingComments([]types.LegacyComment{note}, []types.Comment{{Text: marked}})
	assert.Empty(t, missing)

	// The marker never hides a real body difference.
	other := comment(5, "bob", at, "something else")
	missing, _ = MissingComments([]types.LegacyComment{other}, []types.Comment{{Text: marked}})
	assert.Len(t, missing, 1)
}

func TestMissingComments(t *testing.T) {
	t0 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	legacy := []types.LegacyComment{
		comment(3, "carol", t0.Add(3*time.Minute), "third"),
		comment(1, "alice", t0.Add(time.Minute), "first"),
		comment(2, "bob", t0.Add(2*time.Minute), "second"),
	}

	tests := []struct {
		name     string
		existing []string
		want     []int
		gap      bool
	}{
		{"none present", nil, []int{1, 2, 3}, false},
		{"all present", []string{FormatComment(legacy[1]), FormatComment(legacy[2]), FormatComment(legacy[0])}, nil, false},
		{"prefix present", []string{FormatComment(legacy[1])}, []int{2, 3}, false},
		{"gap", []string{FormatComment(legacy[2])}, []int{1, 3}, true},
		{"unrelated comments ignored", []string{"hello", "<p>[Mantis Migration Metadata]</p>"}, []int{1, 2, 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var existing []types.Comment
			for _, text := range tt.existing {
				existing = append(existing, types.Comment{Text: text})
			}
			missing, gap := MissingComments(legacy, existing)
			var ids []int
			for _, c := range missing {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, tt.gap, gap)
		})
	}
}

func TestMissingComments_ServiceRewrittenHTML(t *testing.T) {
	c := comment(1, "alice", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), "line one\nline  two & more")
	// The service re-serializes markup and entities.
	rewritten := "<div><b>[Comment by alice on 2022-01-01 00:00:00 UTC]</b><br/>line one<br/>line two &amp; more</div>"
	missing, _ := MissingComments([]types.LegacyComment{c}, []types.Comment{{Text: rewritten}})
	assert.Empty(t, missing)
}

func TestMissingComments_Duplicates(t *testing.T) {
	at := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	legacy := []types.LegacyComment{comment(1, "alice", at, "+1"), comment(2, "alice", at, "+1")}
	existing := []types.Comment{{Text: FormatComment(legacy[0])}}

	missing, _ := MissingComments(legacy, existing)
	assert.Len(t, missing, 1)
}

func TestMissingComments_LongBodyPrefix(t *testing.T) {
	at := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	body := strings.Repeat("x", 100)
	legacy := []types.LegacyComment{comment(1, "alice", at, body)}
	// Truncation after the first 80 characters still matches.
	existing := []types.Comment{{Text: "<strong>[Comment by alice on 2022-01-01 00:00:00 UTC]</strong><br>" + body[:85]}}

	missing, _ := MissingComments(legacy, existing)
	assert.Empty(t, missing)
}

func TestFormatMetadata(t *testing.T) {
	issue := &types.LegacyIssue{
		ID:          42,
		Project:     "Web",
		Category:    "UI",
		Status:      types.CodeLabel{Code: 80},
		Priority:    types.CodeLabel{Code: 40, Label: "high"},
		Reporter:    types.LegacyUser{Username: "rep", RealName: "Rep Orter"},
		SubmittedAt: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
		Relationships: []types.LegacyRelationship{
			{SourceID: 42, TargetID: 9, Type: "duplicate of"},
		},
	}
	text := NormalizeText(FormatMetadata(Metadata{
		Issue:    issue,
		Assignee: identity.Unresolved{Original: "Bob <bob>", Reason: identity.ReasonNoMatch},
		State:    types.StateResolved,
	}))

	assert.True(t, strings.HasPrefix(text, MetadataHeader))
	for _, want := range []string{
		"Mantis ID: 42",
		"Project: Web",
		"Category: UI",
		"Original Reporter: Rep Orter (rep)",
		"Original Date: 2021-06-01 12:00:00 UTC",
		"Original Assigned To: Bob <bob> (not mapped: no matching identity)",
		"Original Status: resolved (Resolved)",
		"Original Priority: high",
		"Mantis-42 duplicate of Mantis-9",
	} {
		assert.Contains(t, text, want)
	}
	assert.True(t, HasMetadata([]types.Comment{{Text: FormatMetadata(Metadata{Issue: issue})}}))
	assert.False(t, HasMetadata([]types.Comment{{Text: "Mantis ID: 42"}}))
}
