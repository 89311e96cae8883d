package mantis

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// ManifestName is the attachment index written next to exported files.
const ManifestName = "manifest.csv"

// Manifest maps bug IDs to the attachments exported for them.
type Manifest map[int][]types.LegacyAttachment

// ReadManifest reads a manifest.csv. Columns are located by header name
// (file_id, bug_id, filename, filesize, file_type, path); unknown columns
// are ignored. Rows without a numeric bug_id are skipped.
func ReadManifest(r io.Reader) (Manifest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("reading manifest header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := col["bug_id"]; !ok {
		return nil, fmt.Errorf("manifest has no bug_id column")
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	m := Manifest{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		bugID, err := strconv.Atoi(get(rec, "bug_id"))
		if err != nil {
			continue
		}
		fileID, _ := strconv.Atoi(get(rec, "file_id"))
		size, _ := strconv.ParseInt(get(rec, "filesize"), 10, 64)
		m[bugID] = append(m[bugID], types.LegacyAttachment{
			FileID:      fileID,
			Filename:    get(rec, "filename"),
			Size:        size,
			Path:        filepath.ToSlash(get(rec, "path")),
			ContentType: get(rec, "file_type"),
		})
	}
	return m, nil
}

// LoadManifest reads path. A missing file yields an empty manifest.
func LoadManifest(path string) (Manifest, error) {
	// #nosec G304 - path is operator supplied
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return ReadManifest(f)
}

// Apply fills in attachments for issues the export listed none for, and
// completes the path of listed attachments the manifest knows by file ID.
func (m Manifest) Apply(issues []types.LegacyIssue) {
	for i := range issues {
		rows := m[issues[i].ID]
		if len(rows) == 0 {
			continue
		}
		if len(issues[i].Attachments) == 0 {
			issues[i].Attachments = append([]types.LegacyAttachment(nil), rows...)
			continue
		}
		byID := make(map[int]types.LegacyAttachment, len(rows))
		for _, r := range rows {
			byID[r.FileID] = r
		}
		for j := range issues[i].Attachments {
			att := &issues[i].Attachments[j]
			r, ok := byID[att.FileID]
			if !ok {
				continue
			}
			if att.Path == "" {
				att.Path = r.Path
			}
			if att.Size == 0 {
				att.Size = r.Size
			}
		}
	}
}

// Source names the files of an export.
type Source struct {
	ExportPath     string
	AttachmentsDir string // optional; its manifest.csv is merged when present
}

// Load reads the export and the attachment manifest concurrently and merges
// them.
func (s Source) Load(ctx context.Context) ([]types.LegacyIssue, error) {
	var (
		issues   []types.LegacyIssue
		manifest Manifest
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issues, err = LoadExport(s.ExportPath)
		return err
	})
	if s.AttachmentsDir != "" {
		g.Go(func() error {
			var err error
			manifest, err = LoadManifest(filepath.Join(s.AttachmentsDir, ManifestName))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	manifest.Apply(issues)
	return issues, nil
}
