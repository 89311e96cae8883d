package tracker

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/mantis2ado/mantis2ado/internal/identity"
	"github.com/mantis2ado/mantis2ado/internal/mapping"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

// MetadataHeader opens the metadata comment of every migrated item.
const MetadataHeader = "[Mantis Migration Metadata]"

// DateLayout formats legacy timestamps in comment headers.
const DateLayout = "2006-01-02 15:04:05 UTC"

// bodyPrefixLen is how many normalized runes of a comment body take part in
// presence matching.
const bodyPrefixLen = 80

// privateMarker follows the header of a private note. It is not part of the
// presence key, so notes migrated without it still match.
const privateMarker = "(private)"

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	headerRe     = regexp.MustCompile(`^\[Comment by (.+?) on (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?: UTC)?|Unknown Date)\]\s*(.*)$`)
	brRe         = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li)>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// FormatDate renders a legacy timestamp for comment headers.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown Date"
	}
	return t.UTC().Format(DateLayout)
}

// FormatComment renders a legacy bugnote as a target comment. Private notes
// are carried with a visible marker.
func FormatComment(c types.LegacyComment) string {
	private := ""
	if c.Private {
		private = " <em>" + privateMarker + "</em>"
	}
	return fmt.Sprintf("<strong>[Comment by %s on %s]</strong>%s<br>%s",
		html.EscapeString(c.Author.Label()), FormatDate(c.SubmittedAt), private, mapping.FormatHTML(c.Body))
}

// NormalizeText strips markup, decodes entities and collapses whitespace so
// comments can be compared after the service has rewritten their HTML.
func NormalizeText(s string) string {
	s = brRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// commentKey identifies a migrated comment by author, timestamp header and
// a prefix of its body.
type commentKey struct {
	author string
	date   string
	prefix string
}

func keyOf(text string) (commentKey, bool) {
	m := headerRe.FindStringSubmatch(NormalizeText(text))
	if m == nil {
		return commentKey{}, false
	}
	date := m[2]
	if !strings.HasSuffix(date, " UTC") && date != "Unknown Date" {
		date += " UTC"
	}
	body := []rune(strings.TrimSpace(strings.TrimPrefix(m[3], privateMarker)))
	if len(body) > bodyPrefixLen {
		body = body[:bodyPrefixLen]
	}
	return commentKey{author: m[1], date: date, prefix: strings.TrimSpace(string(body))}, true
}

// MissingComments returns the legacy comments, in timestamp order, that have
// no matching migrated comment on the item. gap is true when a missing
// comment sorts before one that is present, i.e. appending cannot restore
// the exact original order.
func MissingComments(legacy []types.LegacyComment, existing []types.Comment) (missing []types.LegacyComment, gap bool) {
	present := make(map[commentKey]int)
	for _, c := range existing {
		if k, ok := keyOf(c.Text); ok {
			present[k]++
		}
	}

	sorted := make([]types.LegacyComment, len(legacy))
	copy(sorted, legacy)
	types.SortComments(sorted)

	for _, c := range sorted {
		k, _ := keyOf(FormatComment(c))
		if present[k] > 0 {
			present[k]--
			if len(missing) > 0 {
				gap = true
			}
			continue
		}
		missing = append(missing, c)
	}
	return missing, gap
}

// HasMetadata reports whether any comment starts with the metadata header.
func HasMetadata(existing []types.Comment) bool {
	for _, c := range existing {
		if strings.HasPrefix(NormalizeText(c.Text), MetadataHeader) {
			return true
		}
	}
	return false
}

// Metadata is the input to the metadata comment.
type Metadata struct {
	Issue    *types.LegacyIssue
	Reporter identity.Resolution
	Assignee identity.Resolution
	State    types.State // mapped target state
}

// FormatMetadata renders the metadata record for an issue.
func FormatMetadata(md Metadata) string {
	issue := md.Issue
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "<strong>%s:</strong> %s<br>", label, html.EscapeString(value))
	}

	b.WriteString("<strong>" + MetadataHeader + "</strong><br>")
	line("Mantis ID", fmt.Sprintf("%d", issue.ID))
	line("Project", issue.Project)
	if issue.Category != "" {
		line("Category", issue.Category)
	}

	reporter := issue.Reporter.Label()
	if md.Reporter != nil {
		reporter = md.Reporter.Label()
	}
	line("Original Reporter", reporter)
	line("Original Date", FormatDate(issue.SubmittedAt))

	assignee := "Unassigned"
	if md.Assignee != nil {
		assignee = identity.Describe(md.Assignee)
	} else if issue.Handler != nil {
		assignee = issue.Handler.Label()
	}
	line("Original Assigned To", assignee)

	status := mapping.StatusLabel(issue.Status)
	if status == "" {
		status = issue.Status.String()
	}
	if md.State != "" {
		status = fmt.Sprintf("%s (%s)", status, md.State)
	}
	line("Original Status", status)
	line("Original Priority", labelOrCode(issue.Priority))
	line("Original Severity", labelOrCode(issue.Severity))

	if len(issue.Relationships) > 0 {
		b.WriteString("<strong>Relationships:</strong><br>")
		for _, r := range issue.Relationships {
			fmt.Fprintf(&b, "- %s<br>", html.EscapeString(r.String()))
		}
	}
	return b.String()
}

func labelOrCode(c types.CodeLabel) string {
	if s := c.String(); s != "" {
		return s
	}
	return "unknown"
}
