package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mantis2ado/mantis2ado/internal/ledger"
	"github.com/mantis2ado/mantis2ado/internal/tracker"
)

// OutcomeIcon returns the styled icon for an issue outcome.
func OutcomeIcon(o tracker.Outcome) string {
	switch o {
	case tracker.OutcomeCreated, tracker.OutcomeUpdated:
		return RenderPassIcon()
	case tracker.OutcomeFailed:
		return RenderFailIcon()
	default:
		return RenderSkipIcon()
	}
}

// IssueLine renders one per-issue progress line.
func IssueLine(r *tracker.IssueResult) string {
	if r.Failed() {
		return OutcomeIcon(r.Outcome) + " " + RenderFail(r.SummaryLine())
	}

	var b strings.Builder
	b.WriteString(OutcomeIcon(r.Outcome))
	fmt.Fprintf(&b, " Mantis-%d", r.LegacyID)
	if r.WorkItemID != 0 {
		fmt.Fprintf(&b, " → #%d", r.WorkItemID)
	}
	verb := string(r.Outcome)
	if r.DryRun {
		verb = "would " + string(r.Route)
	}
	b.WriteString(" " + verb)
	if r.Type != "" {
		detail := string(r.Type)
		if r.State != "" {
			detail += ", " + string(r.State)
		}
		b.WriteString(RenderMuted(" (" + detail + ")"))
	}
	if n := r.CommentsAdded; n > 0 {
		b.WriteString(RenderMuted(fmt.Sprintf(" +%d %s", n, plural(n, "comment"))))
	}
	if n := r.AttachmentsUploaded; n > 0 {
		b.WriteString(RenderMuted(fmt.Sprintf(" +%d %s", n, plural(n, "attachment"))))
	}
	for _, w := range r.Warnings {
		b.WriteString("\n" + TreeIndent + TreeLast + RenderWarn(w))
	}
	return b.String()
}

// WriteSummary prints the end-of-run report.
func WriteSummary(w io.Writer, s *tracker.RunSummary, width int) {
	title := "Migration summary"
	if s.DryRun {
		title = "Migration plan (dry run)"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderCategory(title))
	fmt.Fprintln(w, RenderSeparator())

	created, updated := "created", "updated"
	if s.DryRun {
		created, updated = "to create", "to update"
	}
	row(w, RenderPassIcon(), created, s.Created)
	row(w, RenderPassIcon(), updated, s.Updated)
	row(w, RenderSkipIcon(), "unchanged", s.Skipped)
	failIcon := RenderPassIcon()
	if s.Failed > 0 {
		failIcon = RenderFailIcon()
	}
	row(w, failIcon, "failed", s.Failed)

	if !s.DryRun {
		row(w, RenderInfoIcon(), "comments added", s.CommentsAdded)
		row(w, RenderInfoIcon(), "metadata records", s.MetadataAdded)
		row(w, RenderInfoIcon(), "attachments uploaded", s.AttachmentsUploaded)
		row(w, RenderSkipIcon(), "attachments already present", s.AttachmentsSkipped)
		attIcon := RenderPassIcon()
		if s.AttachmentsFailed > 0 {
			attIcon = RenderWarnIcon()
		}
		row(w, attIcon, "attachments failed", s.AttachmentsFailed)
	}

	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintf(w, "%s issues in %s\n", humanize.Comma(int64(s.Total())), s.Duration().Round(time.Millisecond))
	if s.Canceled {
		fmt.Fprintln(w, RenderWarn(GlyphWarn.String()+" run canceled before all issues were processed"))
	}

	if len(s.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderCategory("Failures"))
		for _, line := range s.Failures {
			fmt.Fprintln(w, TreeIndent+RenderFail(TreeLast)+WrapIndent(line, width, TreeIndent+"   "))
		}
	}
}

func row(w io.Writer, icon, label string, n int) {
	fmt.Fprintf(w, "%s %-28s %s\n", icon, label, humanize.Comma(int64(n)))
}

// WriteRuns prints ledger runs, newest first.
func WriteRuns(w io.Writer, runs []ledger.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, RenderMuted("No migration runs recorded."))
		return
	}
	fmt.Fprintln(w, RenderCategory("Recent runs"))
	for _, r := range runs {
		fmt.Fprintf(w, "%s %s  %-14s %s/%s  %s\n",
			runIcon(&r),
			RenderAccent(shortID(r.ID)),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Organization, r.Project,
			runStatus(&r))
	}
}

// WriteResults prints the failed results of one run.
func WriteResults(w io.Writer, results []ledger.Result, width int) {
	var failed []ledger.Result
	for _, r := range results {
		if r.Outcome == string(tracker.OutcomeFailed) {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		fmt.Fprintln(w, RenderPass(GlyphPass.String()+" no failed issues"))
		return
	}
	fmt.Fprintln(w, RenderCategory(fmt.Sprintf("Failed issues (%d)", len(failed))))
	for _, r := range failed {
		line := fmt.Sprintf("Mantis-%d at %s [%s]: %s", r.LegacyID, r.Stage, r.Kind, r.Error)
		fmt.Fprintln(w, TreeIndent+RenderFail(TreeLast)+WrapIndent(line, width, TreeIndent+"   "))
	}
}

// FormatSize renders a byte limit; zero is unlimited.
func FormatSize(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return humanize.Bytes(uint64(n))
}

func runIcon(r *ledger.Run) string {
	switch {
	case !r.Finished() || r.Canceled:
		return RenderWarnIcon()
	case r.Failed > 0:
		return RenderFailIcon()
	default:
		return RenderPassIcon()
	}
}

func runStatus(r *ledger.Run) string {
	var parts []string
	if r.DryRun {
		parts = append(parts, "dry run")
	}
	switch {
	case !r.Finished():
		parts = append(parts, "incomplete")
	case r.Canceled:
		parts = append(parts, "canceled")
	}
	parts = append(parts, fmt.Sprintf("%d created, %d updated, %d unchanged, %d failed",
		r.Created, r.Updated, r.Skipped, r.Failed))
	return strings.Join(parts, "; ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
