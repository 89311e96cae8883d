package types

import (
	"fmt"
	"strings"
	"time"
)

// LegacyUser is a Mantis user as referenced by an issue, note, or relationship.
type LegacyUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	RealName string `json:"realname"`
	Email    string `json:"email"`
}

// IsZero reports whether the user reference is empty.
func (u LegacyUser) IsZero() bool {
	return u.ID == 0 && u.Username == "" && u.RealName == "" && u.Email == ""
}

// Label renders the user the way it appears in migrated comments.
func (u LegacyUser) Label() string {
	switch {
	case u.RealName != "" && u.Username != "":
		return fmt.Sprintf("%s (%s)", u.RealName, u.Username)
	case u.RealName != "":
		return u.RealName
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	}
	return "Unknown User"
}

// CodeLabel is a Mantis enumeration value: the numeric code plus the label
// the export resolved for it. Either part may be empty.
type CodeLabel struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// String returns the label, or the code when no label is known.
func (c CodeLabel) String() string {
	if c.Label != "" {
		return c.Label
	}
	if c.Code != 0 {
		return fmt.Sprintf("%d", c.Code)
	}
	return ""
}

// LegacyComment is a Mantis bugnote.
type LegacyComment struct {
	ID          int        `json:"id"`
	Author      LegacyUser `json:"author"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Body        string     `json:"body"`
	Private     bool       `json:"private,omitempty"`
}

// LegacyAttachment references a file attached to a Mantis issue. Content is
// populated lazily by the attachment loader.
type LegacyAttachment struct {
	FileID      int    `json:"file_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Path        string `json:"path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Hash        string `json:"hash,omitempty"` // hex sha256, if precomputed
	Content     []byte `json:"-"`
}

// LegacyRelationship links two Mantis issues.
type LegacyRelationship struct {
	SourceID int    `json:"source_id"`
	TargetID int    `json:"target_id"`
	Type     string `json:"type"`
}

// String renders the relationship for the metadata comment.
func (r LegacyRelationship) String() string {
	kind := r.Type
	if kind == "" {
		kind = "related to"
	}
	return fmt.Sprintf("Mantis-%d %s Mantis-%d", r.SourceID, kind, r.TargetID)
}

// LegacyIssue is one normalized Mantis issue. It is read-only once loaded.
type LegacyIssue struct {
	ID                    int                  `json:"id"`
	Project               string               `json:"project"`
	Category              string               `json:"category,omitempty"`
	Summary               string               `json:"summary"`
	Description           string               `json:"description,omitempty"`
	StepsToReproduce      string               `json:"steps_to_reproduce,omitempty"`
	AdditionalInformation string               `json:"additional_information,omitempty"`
	Status                CodeLabel            `json:"status"`
	Priority              CodeLabel            `json:"priority"`
	Severity              CodeLabel            `json:"severity"`
	Reporter              LegacyUser           `json:"reporter"`
	Handler               *LegacyUser          `json:"handler,omitempty"`
	SubmittedAt           time.Time            `json:"submitted_at"`
	Comments              []LegacyComment      `json:"comments,omitempty"`
	Attachments           []LegacyAttachment   `json:"attachments,omitempty"`
	Relationships         []LegacyRelationship `json:"relationships,omitempty"`
	Tags                  []string             `json:"tags,omitempty"`
}

// Validate checks the fields every migrated issue needs.
func (i *LegacyIssue) Validate() error {
	if i.ID <= 0 {
		return fmt.Errorf("issue id must be positive, got %d", i.ID)
	}
	if strings.TrimSpace(i.Summary) == "" {
		return fmt.Errorf("issue %d: summary is required", i.ID)
	}
	if strings.TrimSpace(i.Project) == "" {
		return fmt.Errorf("issue %d: project is required", i.ID)
	}
	return nil
}

// Tag returns the issue's migration tag.
func (i *LegacyIssue) Tag() string {
	return MigrationTag(i.ID)
}

// Title returns the work item title for the issue.
func (i *LegacyIssue) Title() string {
	return strings.TrimSpace(i.Summary)
}
