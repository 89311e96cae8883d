package mantis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/mantis2ado/mantis2ado/internal/attachments"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

// ErrNotFound is wrapped when no candidate path holds an attachment.
var ErrNotFound = errors.New("attachment file not found")

var spaceRe = regexp.MustCompile(`\s+`)

// SanitizeFilename renders a Mantis filename the way the attachment export
// writes it to disk.
func SanitizeFilename(name string) string {
	name = strings.NewReplacer("\\", "_", "/", "_").Replace(name)
	name = strings.TrimSpace(spaceRe.ReplaceAllString(name, " "))
	if name == "" {
		return "attachment"
	}
	return name
}

// ContentLoader reads attachment bytes from an exported attachments
// directory. Reads cannot escape the directory.
type ContentLoader struct {
	Dir string
}

var _ attachments.Loader = (*ContentLoader)(nil)

// NewContentLoader returns a loader rooted at dir.
func NewContentLoader(dir string) *ContentLoader {
	return &ContentLoader{Dir: dir}
}

// Candidates lists the relative paths tried for att, in order: the recorded
// path, then bug_<id>/<file_id>_<name>, then <file_id>_<name>.
func Candidates(issueID int, att *types.LegacyAttachment) []string {
	var out []string
	if p := strings.TrimSpace(att.Path); p != "" {
		out = append(out, path.Clean(strings.ReplaceAll(p, "\\", "/")))
	}
	if att.FileID > 0 {
		name := fmt.Sprintf("%d_%s", att.FileID, SanitizeFilename(att.Filename))
		for _, c := range []string{path.Join(fmt.Sprintf("bug_%d", issueID), name), name} {
			if len(out) == 0 || out[0] != c {
				out = append(out, c)
			}
		}
	}
	return out
}

// Load implements attachments.Loader.
func (l *ContentLoader) Load(ctx context.Context, issueID int, att *types.LegacyAttachment) ([]byte, error) {
	if l.Dir == "" {
		return nil, errors.New("no attachments directory configured")
	}
	root, err := os.OpenRoot(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening attachments directory: %w", err)
	}
	defer root.Close()

	tried := Candidates(issueID, att)
	for _, name := range tried {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readFile(root, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(tried, ", "))
}

func readFile(root *os.Root, name string) ([]byte, error) {
	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	return io.ReadAll(f)
}
