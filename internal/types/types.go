// Package types defines the data model shared by the migration engine: the
// read-only legacy Mantis records and the local projection of Azure DevOps
// work items.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MigrationTagPrefix prefixes the synthetic tag bound to every migrated work item.
const MigrationTagPrefix = "Mantis-"

// MigrationTag returns the idempotency tag for a legacy issue ID.
func MigrationTag(legacyID int) string {
	return fmt.Sprintf("%s%d", MigrationTagPrefix, legacyID)
}

// WorkItemType is the target work item kind.
type WorkItemType string

// Work item types created by the migration.
const (
	TypeBug     WorkItemType = "Bug"
	TypeTask    WorkItemType = "Task"
	TypeFeature WorkItemType = "Feature"
)

// IsValid checks if the work item type is one the migration creates
func (t WorkItemType) IsValid() bool {
	switch t {
	case TypeBug, TypeTask, TypeFeature:
		return true
	}
	return false
}

// ParseWorkItemType converts a case-insensitive type name. The second return
// value is false for unknown names.
func ParseWorkItemType(s string) (WorkItemType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bug":
		return TypeBug, true
	case "task":
		return TypeTask, true
	case "feature":
		return TypeFeature, true
	}
	return "", false
}

// State is a target workflow state (System.State).
type State string

// States of the default Agile process template.
const (
	StateNew      State = "New"
	StateActive   State = "Active"
	StateResolved State = "Resolved"
	StateClosed   State = "Closed"
)

// IsValid checks if the state is one of the built-in states
func (s State) IsValid() bool {
	switch s {
	case StateNew, StateActive, StateResolved, StateClosed:
		return true
	}
	return false
}

// ParseState converts a case-insensitive state name. Unknown names are
// returned title-cased with ok=false so custom process states can still be
// configured explicitly.
func ParseState(s string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return StateNew, true
	case "active":
		return StateActive, true
	case "resolved":
		return StateResolved, true
	case "closed":
		return StateClosed, true
	}
	return State(strings.TrimSpace(s)), false
}

// WorkItem is the engine's local projection of a target work item. The target
// service owns the real record; this holds only what the engine reads back.
type WorkItem struct {
	ID         int          `json:"id"`
	Rev        int          `json:"rev"`
	Type       WorkItemType `json:"type"`
	Title      string       `json:"title"`
	State      State        `json:"state"`
	Priority   int          `json:"priority"`
	Tags       []string     `json:"tags,omitempty"`
	AssignedTo string       `json:"assigned_to,omitempty"`
	URL        string       `json:"url,omitempty"`
}

// HasTag reports whether the item carries exactly the given tag.
// Tag comparison is case-insensitive, matching Azure DevOps.
func (w *WorkItem) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

// WorkItemFields are the mapped field values written on create or update.
type WorkItemFields struct {
	Title       string
	Description string
	ReproSteps  string
	Priority    int
	Tags        []string
	AssignedTo  string // unique name (email) of a resolved identity; empty leaves it unassigned
	State       State  // only honored on create
}

// Comment is a discussion entry on a target work item.
type Comment struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is a file linked to a target work item.
type Attachment struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Size    int64  `json:"size"`
	Comment string `json:"comment,omitempty"`
}

// TargetUser is an identity in the target directory.
type TargetUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	UniqueName  string `json:"unique_name"`
}

// ParseTags splits a semicolon-separated tag string.
func ParseTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(s, ";") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// JoinTags renders tags in the semicolon-separated form the target stores.
func JoinTags(tags []string) string {
	return strings.Join(tags, "; ")
}
