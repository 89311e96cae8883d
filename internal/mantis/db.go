package mantis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/mantis2ado/mantis2ado/internal/attachments"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

// inChunk bounds the number of IDs in one IN (...) clause.
const inChunk = 500

// Schema names the Mantis tables. Stock installs use the "mantis_" prefix
// and "_table" suffix.
type Schema struct {
	Prefix string
	Suffix string
}

// DefaultSchema is the stock Mantis table naming.
var DefaultSchema = Schema{Prefix: "mantis_", Suffix: "_table"}

func (s Schema) table(name string) string {
	return s.Prefix + name + s.Suffix
}

// OpenDB connects to a Mantis MySQL database. The DSN uses the
// go-sql-driver format (user:pass@tcp(host:3306)/bugtracker).
func OpenDB(ctx context.Context, dsn string) (*sqlx.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mantis database DSN: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("opening mantis database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to mantis database %s: %w", cfg.Addr, err)
	}
	return db, nil
}

// Reader assembles normalized issues from the Mantis tables.
type Reader struct {
	DB     *sqlx.DB
	Schema Schema
}

// NewReader returns a reader over db using the stock table names.
func NewReader(db *sqlx.DB) *Reader {
	return &Reader{DB: db, Schema: DefaultSchema}
}

// ReadIssues reads the issues selected by filter with the stock schema.
func ReadIssues(ctx context.Context, db *sqlx.DB, filter types.Filter) ([]types.LegacyIssue, error) {
	return NewReader(db).ReadIssues(ctx, filter)
}

type bugRow struct {
	ID            int    `db:"id"`
	Project       string `db:"project"`
	Category      string `db:"category"`
	Summary       string `db:"summary"`
	Description   string `db:"description"`
	Steps         string `db:"steps"`
	Additional    string `db:"additional"`
	Status        int    `db:"status"`
	Priority      int    `db:"priority"`
	Severity      int    `db:"severity"`
	ReporterID    int    `db:"reporter_id"`
	HandlerID     int    `db:"handler_id"`
	DateSubmitted int64  `db:"date_submitted"`
}

type userRow struct {
	ID       int    `db:"id"`
	Username string `db:"username"`
	RealName string `db:"realname"`
	Email    string `db:"email"`
}

type noteRow struct {
	ID            int    `db:"id"`
	BugID         int    `db:"bug_id"`
	ReporterID    int    `db:"reporter_id"`
	ViewState     int    `db:"view_state"`
	DateSubmitted int64  `db:"date_submitted"`
	Note          string `db:"note"`
}

type fileRow struct {
	ID       int    `db:"id"`
	BugID    int    `db:"bug_id"`
	Filename string `db:"filename"`
	Filesize int64  `db:"filesize"`
	FileType string `db:"file_type"`
}

type relationshipRow struct {
	Source      int `db:"source_bug_id"`
	Destination int `db:"destination_bug_id"`
	Type        int `db:"relationship_type"`
}

type tagRow struct {
	BugID int    `db:"bug_id"`
	Name  string `db:"name"`
}

// ReadIssues queries bugs matching the project and issue filters, then
// loads their text, notes, files, relationships and tags. The Only allow
// list and the limit are applied last.
func (r *Reader) ReadIssues(ctx context.Context, filter types.Filter) ([]types.LegacyIssue, error) {
	s := r.Schema
	var (
		where []string
		args  []interface{}
	)
	if filter.IssueID != 0 {
		where = append(where, "b.id = ?")
		args = append(args, filter.IssueID)
	}
	if filter.Project != "" {
		where = append(where, "LOWER(p.name) = LOWER(?)")
		args = append(args, strings.TrimSpace(filter.Project))
	}
	query := fmt.Sprintf(`
		SELECT b.id,
			COALESCE(p.name, '') AS project,
			COALESCE(c.name, '') AS category,
			COALESCE(b.summary, '') AS summary,
			COALESCE(t.description, '') AS description,
			COALESCE(t.steps_to_reproduce, '') AS steps,
			COALESCE(t.additional_information, '') AS additional,
			COALESCE(b.status, 0) AS status,
			COALESCE(b.priority, 0) AS priority,
			COALESCE(b.severity, 0) AS severity,
			COALESCE(b.reporter_id, 0) AS reporter_id,
			COALESCE(b.handler_id, 0) AS handler_id,
			COALESCE(b.date_submitted, 0) AS date_submitted
		FROM %s b
		LEFT JOIN %s t ON t.id = b.bug_text_id
		LEFT JOIN %s p ON p.id = b.project_id
		LEFT JOIN %s c ON c.id = b.category_id`,
		s.table("bug"), s.table("bug_text"), s.table("project"), s.table("category"))
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY b.id"
	if filter.Limit > 0 && filter.Only == nil {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var bugs []bugRow
	if err := r.DB.SelectContext(ctx, &bugs, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying bugs: %w", err)
	}
	if len(bugs) == 0 {
		return nil, nil
	}

	ids := make([]int, len(bugs))
	for i, b := range bugs {
		ids[i] = b.ID
	}

	var notes []noteRow
	err := selectIn(ctx, r, &notes, fmt.Sprintf(`
		SELECT n.id, n.bug_id,
			COALESCE(n.reporter_id, 0) AS reporter_id,
			COALESCE(n.view_state, 10) AS view_state,
			COALESCE(n.date_submitted, 0) AS date_submitted,
			COALESCE(nt.note, '') AS note
		FROM %s n
		LEFT JOIN %s nt ON nt.id = n.bugnote_text_id
		WHERE n.bug_id IN (?)
		ORDER BY n.bug_id, n.id`, s.table("bugnote"), s.table("bugnote_text")), ids)
	if err != nil {
		return nil, fmt.Errorf("querying bugnotes: %w", err)
	}

	var files []fileRow
	err = selectIn(ctx, r, &files, fmt.Sprintf(`
		SELECT id, bug_id,
			COALESCE(filename, '') AS filename,
			COALESCE(filesize, 0) AS filesize,
			COALESCE(file_type, '') AS file_type
		FROM %s
		WHERE bug_id IN (?)
		ORDER BY bug_id, id`, s.table("bug_file")), ids)
	if err != nil {
		return nil, fmt.Errorf("querying bug files: %w", err)
	}

	var rels []relationshipRow
	err = selectIn(ctx, r, &rels, fmt.Sprintf(`
		SELECT source_bug_id, destination_bug_id, relationship_type
		FROM %s
		WHERE source_bug_id IN (?)
		ORDER BY source_bug_id, id`, s.table("bug_relationship")), ids)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}

	var tags []tagRow
	err = selectIn(ctx, r, &tags, fmt.Sprintf(`
		SELECT bt.bug_id, t.name
		FROM %s bt
		JOIN %s t ON t.id = bt.tag_id
		WHERE bt.bug_id IN (?)
		ORDER BY bt.bug_id, t.name`, s.table("bug_tag"), s.table("tag")), ids)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}

	userIDs := map[int]bool{}
	for _, b := range bugs {
		userIDs[b.ReporterID] = true
		userIDs[b.HandlerID] = true
	}
	for _, n := range notes {
		userIDs[n.ReporterID] = true
	}
	users, err := r.users(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]*types.LegacyIssue, len(bugs))
	issues := make([]types.LegacyIssue, len(bugs))
	for i, b := range bugs {
		issues[i] = types.LegacyIssue{
			ID:                    b.ID,
			Project:               strings.TrimSpace(b.Project),
			Category:              strings.TrimSpace(b.Category),
			Summary:               strings.TrimSpace(b.Summary),
			Description:           b.Description,
			StepsToReproduce:      b.Steps,
			AdditionalInformation: b.Additional,
			Status:                types.CodeLabel{Code: b.Status},
			Priority:              types.CodeLabel{Code: b.Priority},
			Severity:              types.CodeLabel{Code: b.Severity},
			Reporter:              users[b.ReporterID],
			SubmittedAt:           epochTime(flexInt(b.DateSubmitted)),
		}
		if issues[i].Project == "" {
			issues[i].Project = UnknownProject
		}
		if h, ok := users[b.HandlerID]; ok && b.HandlerID != 0 {
			issues[i].Handler = &h
		}
		byID[b.ID] = &issues[i]
	}

	for _, n := range notes {
		issue := byID[n.BugID]
		if issue == nil {
			continue
		}
		issue.Comments = append(issue.Comments, types.LegacyComment{
			ID:          n.ID,
			Author:      users[n.ReporterID],
			SubmittedAt: epochTime(flexInt(n.DateSubmitted)),
			Body:        n.Note,
			Private:     n.ViewState == viewPrivate,
		})
	}
	for _, f := range files {
		if issue := byID[f.BugID]; issue != nil {
			issue.Attachments = append(issue.Attachments, types.LegacyAttachment{
				FileID:      f.ID,
				Filename:    f.Filename,
				Size:        f.Filesize,
				ContentType: f.FileType,
			})
		}
	}
	for _, rel := range rels {
		if issue := byID[rel.Source]; issue != nil {
			issue.Relationships = append(issue.Relationships, types.LegacyRelationship{
				SourceID: rel.Source,
				TargetID: rel.Destination,
				Type:     RelationshipLabel(rel.Type),
			})
		}
	}
	for _, t := range tags {
		if issue := byID[t.BugID]; issue != nil && strings.TrimSpace(t.Name) != "" {
			issue.Tags = append(issue.Tags, strings.TrimSpace(t.Name))
		}
	}

	for i := range issues {
		types.SortComments(issues[i].Comments)
		sort.Strings(issues[i].Tags)
	}
	if filter.Only != nil {
		issues = filter.Apply(issues)
	}
	return issues, nil
}

func (r *Reader) users(ctx context.Context, set map[int]bool) (map[int]types.LegacyUser, error) {
	ids := make([]int, 0, len(set))
	for id := range set {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make(map[int]types.LegacyUser, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []userRow
	err := selectIn(ctx, r, &rows, fmt.Sprintf(`
		SELECT id,
			COALESCE(username, '') AS username,
			COALESCE(realname, '') AS realname,
			COALESCE(email, '') AS email
		FROM %s
		WHERE id IN (?)`, r.Schema.table("user")), ids)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	for _, u := range rows {
		out[u.ID] = types.LegacyUser{
			ID:       u.ID,
			Username: strings.TrimSpace(u.Username),
			RealName: strings.TrimSpace(u.RealName),
			Email:    strings.TrimSpace(u.Email),
		}
	}
	return out, nil
}

// selectIn runs query once per chunk of ids, appending into dest. The query
// must contain exactly one "IN (?)".
func selectIn[T any](ctx context.Context, r *Reader, dest *[]T, query string, ids []int) error {
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		q, args, err := sqlx.In(query, ids[start:end])
		if err != nil {
			return err
		}
		var rows []T
		if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(q), args...); err != nil {
			return err
		}
		*dest = append(*dest, rows...)
	}
	return nil
}

// DBLoader reads attachment content stored in the bug_file table. Files
// Mantis kept on disk (empty content column) are read through Fallback.
type DBLoader struct {
	DB       *sqlx.DB
	Schema   Schema
	Fallback attachments.Loader
}

var _ attachments.Loader = (*DBLoader)(nil)

// Load implements attachments.Loader.
func (l *DBLoader) Load(ctx context.Context, issueID int, att *types.LegacyAttachment) ([]byte, error) {
	if att.FileID > 0 {
		var content []byte
		err := l.DB.GetContext(ctx, &content, l.DB.Rebind(fmt.Sprintf(
			"SELECT content FROM %s WHERE id = ? AND bug_id = ?", l.Schema.table("bug_file"))),
			att.FileID, issueID)
		switch {
		case err == nil && len(content) > 0:
			return content, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("reading bug file %d: %w", att.FileID, err)
		}
	}
	if l.Fallback != nil {
		return l.Fallback.Load(ctx, issueID, att)
	}
	return nil, fmt.Errorf("%w: file %d has no stored content", ErrNotFound, att.FileID)
}
