package attachments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

type memTarget struct {
	mu        sync.Mutex
	items     map[int][]types.Attachment
	failNames map[string]bool
	listErr   error
	uploads   int
}

func newMemTarget() *memTarget {
	return &memTarget{items: make(map[int][]types.Attachment), failNames: make(map[string]bool)}
}

func (m *memTarget) ListAttachments(_ context.Context, id int) ([]types.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]types.Attachment(nil), m.items[id]...), nil
}

func (m *memTarget) AddAttachment(_ context.Context, id int, name string, content []byte, comment string) (*types.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNames[name] {
		return nil, errors.New("upload rejected")
	}
	m.uploads++
	a := types.Attachment{Name: name, Size: int64(len(content)), Comment: comment, URL: fmt.Sprintf("mem://%d/%s", id, name)}
	m.items[id] = append(m.items[id], a)
	return &a, nil
}

type mapLoader map[string][]byte

func (l mapLoader) Load(_ context.Context, _ int, att *types.LegacyAttachment) ([]byte, error) {
	if b, ok := l[att.Filename]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%s: %w", att.Filename, os.ErrNotExist)
}

func TestSyncDedupAcrossRuns(t *testing.T) {
	target := newMemTarget()
	loader := mapLoader{"log.txt": []byte("hello"), "shot.png": []byte("png-bytes")}
	s := &Synchronizer{Target: target, Loader: loader}
	atts := []types.LegacyAttachment{
		{FileID: 1, Filename: "log.txt", Size: 5},
		{FileID: 2, Filename: "shot.png", Size: 9},
	}

	res, err := s.Sync(context.Background(), 10, 100, atts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)

	res, err = s.Sync(context.Background(), 10, 100, atts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, target.uploads)
	assert.Len(t, target.items[100], 2)
}

func TestSyncSameContentTwiceInOneIssue(t *testing.T) {
	target := newMemTarget()
	s := &Synchronizer{Target: target, Loader: mapLoader{"a.txt": []byte("same")}}
	atts := []types.LegacyAttachment{
		{Filename: "a.txt", Size: 4},
		{Filename: "a.txt", Size: 4},
	}

	res, err := s.Sync(context.Background(), 1, 5, atts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 1, res.Skipped)
}

func TestSyncRecognizesLegacyMarker(t *testing.T) {
	target := newMemTarget()
	target.items[7] = []types.Attachment{{Name: "renamed.txt", Size: 1, Comment: "Imported from Mantis (ID: 33)"}}
	s := &Synchronizer{Target: target, Loader: mapLoader{}}

	res, err := s.Sync(context.Background(), 1, 7, []types.LegacyAttachment{{FileID: 33, Filename: "orig.txt", Size: 5}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors, "content must not be loaded for a file id match")
}

func TestSyncCollectsFailuresWithoutBlocking(t *testing.T) {
	target := newMemTarget()
	target.failNames["bad.bin"] = true
	loader := mapLoader{"ok.txt": []byte("fine"), "bad.bin": []byte("x"), "big.iso": make([]byte, 2048)}
	s := &Synchronizer{Target: target, Loader: loader, Options: Options{MaxSize: 1024}}
	atts := []types.LegacyAttachment{
		{FileID: 1, Filename: "missing.doc"},
		{FileID: 2, Filename: "bad.bin"},
		{FileID: 3, Filename: "big.iso"},
		{FileID: 4, Filename: "ok.txt"},
	}

	res, err := s.Sync(context.Background(), 9, 1, atts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	require.Equal(t, 3, res.Failed())

	ops := map[string]string{}
	for _, e := range res.Errors {
		ops[e.Filename] = e.Op
	}
	assert.Equal(t, map[string]string{"missing.doc": "load", "bad.bin": "upload", "big.iso": "limit"}, ops)
	assert.ErrorIs(t, res.Err(), os.ErrNotExist)
	assert.ErrorIs(t, res.Err(), ErrTooLarge)

	var ae *AttachmentError
	require.ErrorAs(t, res.Err(), &ae)
	assert.Equal(t, 9, ae.LegacyID)
}

func TestSyncExcludePatterns(t *testing.T) {
	target := newMemTarget()
	s := &Synchronizer{
		Target:  target,
		Loader:  mapLoader{"core.dmp": []byte("x"), "notes.txt": []byte("y")},
		Options: Options{Exclude: []string{"*.dmp", "**/*.tmp"}},
	}
	atts := []types.LegacyAttachment{
		{FileID: 1, Filename: "core.dmp"},
		{FileID: 2, Filename: "notes.txt"},
		{FileID: 3, Filename: "cache/x.tmp"},
	}

	res, err := s.Sync(context.Background(), 1, 1, atts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Excluded)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 1, target.uploads)
}

func TestSyncListFailureIsReturned(t *testing.T) {
	target := newMemTarget()
	target.listErr = errors.New("boom")
	s := &Synchronizer{Target: target}

	_, err := s.Sync(context.Background(), 1, 1, []types.LegacyAttachment{{Filename: "a"}})
	require.Error(t, err)

	res, err := s.Sync(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Uploaded)
}

func TestSyncUsesInlineContent(t *testing.T) {
	target := newMemTarget()
	s := &Synchronizer{Target: target}

	res, err := s.Sync(context.Background(), 1, 1, []types.LegacyAttachment{{FileID: 5, Filename: "inline.txt", Content: []byte("abc")}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, Marker(5, Hash([]byte("abc"))), target.items[1][0].Comment)
}
