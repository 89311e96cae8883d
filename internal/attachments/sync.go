package attachments

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// DefaultConcurrency bounds parallel content loading and hashing.
const DefaultConcurrency = 4

// Target lists and adds file attachments on a work item.
type Target interface {
	ListAttachments(ctx context.Context, id int) ([]types.Attachment, error)
	AddAttachment(ctx context.Context, id int, name string, content []byte, comment string) (*types.Attachment, error)
}

// Loader reads the bytes of a legacy attachment.
type Loader interface {
	Load(ctx context.Context, issueID int, att *types.LegacyAttachment) ([]byte, error)
}

// ErrTooLarge is wrapped by AttachmentError for files over the size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// AttachmentError describes one attachment that could not be synced.
type AttachmentError struct {
	LegacyID int
	FileID   int
	Filename string
	Op       string // load, limit, upload
	Err      error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("issue %d: attachment %q (file %d): %s: %v", e.LegacyID, e.Filename, e.FileID, e.Op, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// Options tune a Synchronizer.
type Options struct {
	Exclude     []string // doublestar patterns matched against the filename
	MaxSize     int64    // bytes; zero means unlimited
	Concurrency int
}

// Result counts what happened to one issue's attachments.
type Result struct {
	Uploaded int
	Skipped  int
	Excluded int
	Errors   []*AttachmentError
}

// Failed returns the number of attachments that could not be synced.
func (r *Result) Failed() int {
	return len(r.Errors)
}

// Err joins the collected attachment errors, or returns nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Synchronizer uploads the attachments a work item is missing.
type Synchronizer struct {
	Target  Target
	Loader  Loader
	Options Options

	// OnMessage reports per-attachment progress.
	OnMessage func(format string, args ...interface{})
}

type loaded struct {
	content []byte
	hash    string
	err     error
}

// Sync brings item in line with atts. Per-attachment problems are collected in
// the result; only a failure to list the item's current attachments is
// returned as an error.
func (s *Synchronizer) Sync(ctx context.Context, legacyID, itemID int, atts []types.LegacyAttachment) (*Result, error) {
	res := &Result{}
	if len(atts) == 0 {
		return res, nil
	}

	existing, err := s.Target.ListAttachments(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments of work item %d: %w", itemID, err)
	}
	keys := NewKeySet(existing)

	// Anything already matched by file id or a precomputed hash needs no load.
	pending := make([]bool, len(atts))
	for i := range atts {
		att := &atts[i]
		if s.excluded(att.Filename) {
			continue
		}
		if _, ok := keys.Match(LegacyKeys(att, att.Hash)); ok && (att.Hash != "" || att.FileID > 0) {
			continue
		}
		pending[i] = true
	}

	results := s.load(ctx, legacyID, atts, pending)

	for i := range atts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		att := &atts[i]
		if s.excluded(att.Filename) {
			res.Excluded++
			s.msg("excluded %s", att.Filename)
			continue
		}

		l := results[i]
		hash := att.Hash
		if l.hash != "" {
			hash = l.hash
		}
		attKeys := LegacyKeys(att, hash)
		if key, ok := keys.Match(attKeys); ok {
			res.Skipped++
			s.msg("skipping existing attachment %s (%s)", att.Filename, key)
			continue
		}

		if l.err != nil {
			res.Errors = append(res.Errors, s.fail(legacyID, att, "load", l.err))
			continue
		}
		size := int64(len(l.content))
		if s.Options.MaxSize > 0 && size > s.Options.MaxSize {
			err := fmt.Errorf("%w: %s > %s", ErrTooLarge, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(s.Options.MaxSize)))
			res.Errors = append(res.Errors, s.fail(legacyID, att, "limit", err))
			continue
		}

		name := uploadName(att)
		if _, err := s.Target.AddAttachment(ctx, itemID, name, l.content, Marker(att.FileID, hash)); err != nil {
			res.Errors = append(res.Errors, s.fail(legacyID, att, "upload", err))
			continue
		}
		res.Uploaded++
		keys.Add(attKeys...)
		keys.Add(nameKey(name, size))
		s.msg("attached %s (%s)", name, humanize.Bytes(uint64(size)))
	}
	return res, nil
}

// load reads and hashes every pending attachment with bounded concurrency.
// Per-file errors are stored in the result slot, never returned by the group.
func (s *Synchronizer) load(ctx context.Context, legacyID int, atts []types.LegacyAttachment, pending []bool) []loaded {
	out := make([]loaded, len(atts))
	limit := s.Options.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range atts {
		if !pending[i] {
			continue
		}
		i := i
		g.Go(func() error {
			att := &atts[i]
			content := att.Content
			if content == nil {
				if s.Loader == nil {
					out[i].err = errors.New("no attachment source configured")
					return nil
				}
				var err error
				content, err = s.Loader.Load(gctx, legacyID, att)
				if err != nil {
					out[i].err = err
					return nil
				}
			}
			out[i].content = content
			out[i].hash = Hash(content)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Synchronizer) excluded(filename string) bool {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	for _, pattern := range s.Options.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filename); ok {
			return true
		}
	}
	return false
}

func (s *Synchronizer) fail(legacyID int, att *types.LegacyAttachment, op string, err error) *AttachmentError {
	ae := &AttachmentError{LegacyID: legacyID, FileID: att.FileID, Filename: att.Filename, Op: op, Err: err}
	s.msg("failed to attach %s: %v", att.Filename, err)
	return ae
}

func (s *Synchronizer) msg(format string, args ...interface{}) {
	if s.OnMessage != nil {
		s.OnMessage(format, args...)
	}
}

func uploadName(att *types.LegacyAttachment) string {
	name := strings.TrimSpace(att.Filename)
	if name == "" {
		return fmt.Sprintf("attachment-%d", att.FileID)
	}
	return name
}
