package tracker

import (
	"fmt"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// Outcome is the per-issue result of a migration run.
type Outcome string

// Issue outcomes. Failed wins over any other outcome.
const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Route is the idempotency decision for one issue.
type Route string

// Routes.
const (
	RouteCreate Route = "create"
	RouteSkip   Route = "skip"   // present; only comments, metadata and attachments are healed
	RouteUpdate Route = "update" // present and force-update is set
)

// Stage names one step of the per-issue pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageResolve     Stage = "resolve"
	StageMap         Stage = "map"
	StageLocate      Stage = "locate"
	StageTransition  Stage = "transition"
	StageComments    Stage = "comments"
	StageMetadata    Stage = "metadata"
	StageAttachments Stage = "attachments"
)

// StageError is a failure recorded against one pipeline stage.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

// MigrateOptions configures one migration run.
type MigrateOptions struct {
	// Filter selects the issues to migrate (project, single id, limit,
	// retry-failed allow list).
	Filter types.Filter

	// ForceUpdate overwrites mapped fields and re-evaluates the state of
	// items that already exist.
	ForceUpdate bool

	// DryRun resolves, maps and locates only; nothing is written.
	DryRun bool
}

// IssueResult describes what happened to one legacy issue.
type IssueResult struct {
	LegacyID   int                `json:"legacy_id"`
	WorkItemID int                `json:"work_item_id,omitempty"`
	Type       types.WorkItemType `json:"type,omitempty"`
	State      types.State        `json:"state,omitempty"`
	Route      Route              `json:"route,omitempty"`
	Outcome    Outcome            `json:"outcome"`
	DryRun     bool               `json:"dry_run,omitempty"`

	// Errors holds every stage failure in order. The first one names the
	// issue's failing stage.
	Errors   []StageError `json:"-"`
	Warnings []string     `json:"warnings,omitempty"`

	CommentsAdded       int  `json:"comments_added"`
	MetadataAdded       bool `json:"metadata_added"`
	AttachmentsUploaded int  `json:"attachments_uploaded"`
	AttachmentsSkipped  int  `json:"attachments_skipped"`
	AttachmentsFailed   int  `json:"attachments_failed"`
}

// Failed reports whether any stage failed.
func (r *IssueResult) Failed() bool {
	return len(r.Errors) > 0
}

// Stage returns the first failing stage, if any.
func (r *IssueResult) Stage() Stage {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Stage
}

// Kind returns the error kind of the first failure, if any.
func (r *IssueResult) Kind() ErrorKind {
	if len(r.Errors) == 0 {
		return KindNone
	}
	return r.Errors[0].Kind
}

// Err returns the first failure, if any.
func (r *IssueResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0].Err
}

func (r *IssueResult) fail(stage Stage, err error) {
	r.Errors = append(r.Errors, StageError{Stage: stage, Kind: KindOf(err), Err: err})
	r.Outcome = OutcomeFailed
}

// SummaryLine renders the single operator-facing line for a failed issue.
func (r *IssueResult) SummaryLine() string {
	if !r.Failed() {
		return fmt.Sprintf("Mantis-%d: %s", r.LegacyID, r.Outcome)
	}
	target := ""
	if r.WorkItemID != 0 {
		target = fmt.Sprintf(" (work item %d)", r.WorkItemID)
	}
	return fmt.Sprintf("Mantis-%d%s failed at %s [%s]: %v", r.LegacyID, target, r.Stage(), r.Kind(), r.Err())
}
