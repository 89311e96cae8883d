package mantis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

const sampleManifest = "\ufefffile_id,bug_id,filename,diskfile,filesize,file_type,title,description,path\n" +
	"5,12,shot.png,abc123,2048,image/png,,,bug_12/5_shot.png\n" +
	"6,12,\"log, full.txt\",def456,10,text/plain,,,\"bug_12/6_log, full.txt\"\n" +
	"7,3,dump.bin,ghi789,4,application/octet-stream,,,bug_3/7_dump.bin\n" +
	"8,,orphan.txt,jkl,1,text/plain,,,orphan.txt\n"

func TestReadManifest(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m, 2, "rows without a bug id are skipped")

	require.Len(t, m[12], 2)
	assert.Equal(t, types.LegacyAttachment{
		FileID: 6, Filename: "log, full.txt", Size: 10, ContentType: "text/plain", Path: "bug_12/6_log, full.txt",
	}, m[12][1])
	assert.Equal(t, 7, m[3][0].FileID)
}

func TestReadManifestEdgeCases(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = ReadManifest(strings.NewReader("file_id,filename\n1,a\n"))
	assert.ErrorContains(t, err, "no bug_id column")
}

func TestManifestApply(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	issues := []types.LegacyIssue{
		{ID: 3},
		{ID: 12, Attachments: []types.LegacyAttachment{{FileID: 5, Filename: "shot.png"}, {FileID: 99, Filename: "other"}}},
		{ID: 40},
	}
	m.Apply(issues)

	require.Len(t, issues[0].Attachments, 1, "issue without attachments takes the manifest rows")
	assert.Equal(t, "bug_3/7_dump.bin", issues[0].Attachments[0].Path)

	require.Len(t, issues[1].Attachments, 2, "listed attachments are completed, not replaced")
	assert.Equal(t, "bug_12/5_shot.png", issues[1].Attachments[0].Path)
	assert.Equal(t, int64(2048), issues[1].Attachments[0].Size)
	assert.Empty(t, issues[1].Attachments[1].Path)

	assert.Empty(t, issues[2].Attachments)
}

func TestSourceLoad(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "mantis_data.json")
	attDir := filepath.Join(dir, "attachments")
	require.NoError(t, os.MkdirAll(attDir, 0o750))
	require.NoError(t, os.WriteFile(exportPath, []byte(sampleExport), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(attDir, ManifestName), []byte(sampleManifest), 0o600))

	issues, err := Source{ExportPath: exportPath, AttachmentsDir: attDir}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Len(t, issues[0].Attachments, 1)
	assert.Equal(t, 3, issues[0].ID)

	// A missing manifest is not an error.
	issues, err = Source{ExportPath: exportPath, AttachmentsDir: t.TempDir()}.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issues[0].Attachments)

	_, err = Source{ExportPath: filepath.Join(dir, "nope.json")}.Load(context.Background())
	assert.Error(t, err)
}
