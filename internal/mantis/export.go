// Package mantis reads MantisBT issues into the normalized legacy model,
// either from the JSON export document or from a live Mantis database.
package mantis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// UnknownProject names issues whose project row is missing.
const UnknownProject = "Unknown"

// viewPrivate is the Mantis view_state of a private bugnote.
const viewPrivate = 50

// relationshipLabels maps Mantis relationship type codes, seen from the
// source bug.
var relationshipLabels = map[int]string{
	0: "duplicate of",
	1: "related to",
	2: "parent of",
	3: "child of",
	4: "has duplicate",
}

// RelationshipLabel names a Mantis relationship type code.
func RelationshipLabel(code int) string {
	if l, ok := relationshipLabels[code]; ok {
		return l
	}
	return "related to"
}

// flexInt accepts a JSON number, a numeric string, or null. Exports mix all
// three: SQL columns come through as numbers, manifest rows as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts a JSON string, a number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(data)
	}
	return nil
}

// epochTime converts a Mantis epoch timestamp. Zero and one mean unset.
func epochTime(ts flexInt) time.Time {
	if ts <= 1 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0).UTC()
}

type exportUser struct {
	ID       flexInt    `json:"id"`
	Username flexString `json:"username"`
	RealName flexString `json:"realname"`
	Email    flexString `json:"email"`
}

func (u *exportUser) legacy() types.LegacyUser {
	if u == nil {
		return types.LegacyUser{}
	}
	return types.LegacyUser{
		ID:       int(u.ID),
		Username: strings.TrimSpace(string(u.Username)),
		RealName: strings.TrimSpace(string(u.RealName)),
		Email:    strings.TrimSpace(string(u.Email)),
	}
}

type exportNamed struct {
	Name flexString `json:"name"`
}

type exportNote struct {
	ID            flexInt     `json:"id"`
	BugID         flexInt     `json:"bug_id"`
	ViewState     flexInt     `json:"view_state"`
	NoteText      flexString  `json:"note_text"`
	DateSubmitted flexInt     `json:"date_submitted"`
	Reporter      *exportUser `json:"reporter"`
}

type exportAttachment struct {
	FileID   flexInt    `json:"file_id"`
	Filename flexString `json:"filename"`
	Diskfile flexString `json:"diskfile"`
	Filesize flexInt    `json:"filesize"`
	FileType flexString `json:"file_type"`
	Path     flexString `json:"path"`
}

type exportRelationship struct {
	Source      flexInt `json:"source_bug_id"`
	Destination flexInt `json:"destination_bug_id"`
	Type        flexInt `json:"relationship_type"`
}

type exportTag struct {
	Name flexString `json:"tag_name"`
}

type exportBug struct {
	ID                    flexInt              `json:"id"`
	Project               *exportNamed         `json:"project"`
	Category              *exportNamed         `json:"category"`
	Summary               flexString           `json:"summary"`
	Description           flexString           `json:"description"`
	StepsToReproduce      flexString           `json:"steps_to_reproduce"`
	AdditionalInformation flexString           `json:"additional_information"`
	Status                flexInt              `json:"status"`
	StatusLabel           flexString           `json:"status_label"`
	Priority              flexInt              `json:"priority"`
	PriorityLabel         flexString           `json:"priority_label"`
	Severity              flexInt              `json:"severity"`
	SeverityLabel         flexString           `json:"severity_label"`
	Reporter              *exportUser          `json:"reporter"`
	Handler               *exportUser          `json:"handler"`
	DateSubmitted         flexInt              `json:"date_submitted"`
	Bugnotes              []exportNote         `json:"bugnotes"`
	Attachments           []exportAttachment   `json:"attachments"`
	Relationships         []exportRelationship `json:"relationships"`
	Tags                  []exportTag          `json:"tags"`
}

// exportDocument is the subset of the export the migration reads. Older
// exports carry a "bugs" array instead of the "bugs_by_id" map.
type exportDocument struct {
	BugsByID map[string]exportBug `json:"bugs_by_id"`
	Bugs     []exportBug          `json:"bugs"`
}

// LoadExport reads the JSON export at path.
func LoadExport(path string) ([]types.LegacyIssue, error) {
	// #nosec G304 - path is operator supplied
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	issues, err := DecodeExport(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return issues, nil
}

// DecodeExport decodes an export document into issues sorted by ID. Every
// issue is validated; the first invalid one fails the whole document.
func DecodeExport(r io.Reader) ([]types.LegacyIssue, error) {
	var doc exportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse export: %w", err)
	}

	bugs := doc.Bugs
	for key, b := range doc.BugsByID {
		if b.ID == 0 {
			id, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("bug key %q is not an id", key)
			}
			b.ID = flexInt(id)
		}
		bugs = append(bugs, b)
	}
	if len(bugs) == 0 {
		return nil, fmt.Errorf("export contains no bugs (expected bugs_by_id or bugs)")
	}

	issues := make([]types.LegacyIssue, 0, len(bugs))
	seen := make(map[int]bool, len(bugs))
	for i := range bugs {
		issue := bugs[i].legacy()
		if seen[issue.ID] {
			return nil, fmt.Errorf("duplicate bug id %d", issue.ID)
		}
		seen[issue.ID] = true
		if err := issue.Validate(); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	types.SortIssues(issues)
	return issues, nil
}

func (b *exportBug) legacy() types.LegacyIssue {
	issue := types.LegacyIssue{
		ID:                    int(b.ID),
		Summary:               strings.TrimSpace(string(b.Summary)),
		Description:           string(b.Description),
		StepsToReproduce:      string(b.StepsToReproduce),
		AdditionalInformation: string(b.AdditionalInformation),
		Status:                types.CodeLabel{Code: int(b.Status), Label: string(b.StatusLabel)},
		Priority:              types.CodeLabel{Code: int(b.Priority), Label: string(b.PriorityLabel)},
		Severity:              types.CodeLabel{Code: int(b.Severity), Label: string(b.SeverityLabel)},
		Reporter:              b.Reporter.legacy(),
		SubmittedAt:           epochTime(b.DateSubmitted),
	}
	if b.Project != nil {
		issue.Project = strings.TrimSpace(string(b.Project.Name))
	}
	if issue.Project == "" {
		issue.Project = UnknownProject
	}
	if b.Category != nil {
		issue.Category = strings.TrimSpace(string(b.Category.Name))
	}
	if h := b.Handler.legacy(); !h.IsZero() {
		issue.Handler = &h
	}

	for _, n := range b.Bugnotes {
		issue.Comments = append(issue.Comments, types.LegacyComment{
			ID:          int(n.ID),
			Author:      n.Reporter.legacy(),
			SubmittedAt: epochTime(n.DateSubmitted),
			Body:        string(n.NoteText),
			Private:     int(n.ViewState) == viewPrivate,
		})
	}
	types.SortComments(issue.Comments)

	for _, a := range b.Attachments {
		issue.Attachments = append(issue.Attachments, a.legacy())
	}
	for _, r := range b.Relationships {
		src := int(r.Source)
		if src == 0 {
			src = issue.ID
		}
		issue.Relationships = append(issue.Relationships, types.LegacyRelationship{
			SourceID: src,
			TargetID: int(r.Destination),
			Type:     RelationshipLabel(int(r.Type)),
		})
	}
	for _, t := range b.Tags {
		if name := strings.TrimSpace(string(t.Name)); name != "" {
			issue.Tags = append(issue.Tags, name)
		}
	}
	sort.Strings(issue.Tags)
	return issue
}

func (a *exportAttachment) legacy() types.LegacyAttachment {
	return types.LegacyAttachment{
		FileID:      int(a.FileID),
		Filename:    string(a.Filename),
		Size:        int64(a.Filesize),
		Path:        string(a.Path),
		ContentType: string(a.FileType),
	}
}
