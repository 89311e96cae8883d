package tracker

import (
	"time"
)

// RunSummary accumulates the results of a migration run.
type RunSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	CommentsAdded       int `json:"comments_added"`
	MetadataAdded       int `json:"metadata_added"`
	AttachmentsUploaded int `json:"attachments_uploaded"`
	AttachmentsSkipped  int `json:"attachments_skipped"`
	AttachmentsFailed   int `json:"attachments_failed"`

	DryRun     bool      `json:"dry_run,omitempty"`
	Canceled   bool      `json:"canceled,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Failures holds one summary line per failed issue.
	Failures []string `json:"failures,omitempty"`
}

// Total returns the number of issues processed.
func (s *RunSummary) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Failed
}

// Duration returns the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Add folds one issue result into the summary.
func (s *RunSummary) Add(r *IssueResult) {
	switch r.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
		s.Failures = append(s.Failures, r.SummaryLine())
	}
	s.CommentsAdded += r.CommentsAdded
	if r.MetadataAdded {
		s.MetadataAdded++
	}
	s.AttachmentsUploaded += r.AttachmentsUploaded
	s.AttachmentsSkipped += r.AttachmentsSkipped
	s.AttachmentsFailed += r.AttachmentsFailed
}
