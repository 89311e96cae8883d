// Package attachments uploads Mantis attachments to a target work item,
// skipping any the item already carries.
package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// MarkerPrefix starts the relation comment written on every uploaded file.
const MarkerPrefix = "Imported from Mantis"

var markerRe = regexp.MustCompile(`Imported from Mantis \(([^)]*)\)`)

// Hash returns the hex sha256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Marker renders the relation comment for an uploaded attachment.
func Marker(fileID int, hash string) string {
	var parts []string
	if fileID > 0 {
		parts = append(parts, fmt.Sprintf("ID: %d", fileID))
	}
	if hash != "" {
		parts = append(parts, "sha256:"+hash)
	}
	return fmt.Sprintf("%s (%s)", MarkerPrefix, strings.Join(parts, "; "))
}

func hashKey(hash string) string { return "sha256:" + strings.ToLower(hash) }

func fileKey(id int) string { return "file:" + strconv.Itoa(id) }

func nameKey(name string, size int64) string {
	return fmt.Sprintf("name:%s:%d", strings.ToLower(strings.TrimSpace(name)), size)
}

// LegacyKeys returns the dedup keys for a legacy attachment. hash is the hex
// content digest, or empty when the content could not be hashed; the
// name+size key is only used in that case.
func LegacyKeys(att *types.LegacyAttachment, hash string) []string {
	var keys []string
	if hash != "" {
		keys = append(keys, hashKey(hash))
	}
	if att.FileID > 0 {
		keys = append(keys, fileKey(att.FileID))
	}
	if hash == "" {
		keys = append(keys, nameKey(att.Filename, att.Size))
	}
	return keys
}

// ExistingKeys returns the dedup keys recorded on a target attachment: its
// name and size, plus whatever the import marker carries.
func ExistingKeys(a types.Attachment) []string {
	var keys []string
	if a.Name != "" {
		keys = append(keys, nameKey(a.Name, a.Size))
	}
	m := markerRe.FindStringSubmatch(a.Comment)
	if m == nil {
		return keys
	}
	for _, part := range strings.Split(m[1], ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "ID:"):
			if id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(part, "ID:"))); err == nil && id > 0 {
				keys = append(keys, fileKey(id))
			}
		case strings.HasPrefix(part, "sha256:"):
			if h := strings.TrimPrefix(part, "sha256:"); h != "" {
				keys = append(keys, hashKey(h))
			}
		}
	}
	return keys
}

// KeySet is a set of dedup keys.
type KeySet map[string]bool

// NewKeySet collects the keys of every existing attachment.
func NewKeySet(existing []types.Attachment) KeySet {
	ks := make(KeySet)
	for _, a := range existing {
		ks.Add(ExistingKeys(a)...)
	}
	return ks
}

// Add inserts keys.
func (ks KeySet) Add(keys ...string) {
	for _, k := range keys {
		ks[k] = true
	}
}

// Match returns the first key present in the set.
func (ks KeySet) Match(keys []string) (string, bool) {
	for _, k := range keys {
		if ks[k] {
			return k, true
		}
	}
	return "", false
}
