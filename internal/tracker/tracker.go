// Package tracker reconciles legacy Mantis issues against a target work item
// tracker.
//
// It defines the Target interface that adapters (Azure DevOps) implement and
// the Engine that migrates issues one at a time: resolve identities, map
// fields, create or locate the work item, walk its workflow, then heal
// comments, the metadata record, and attachments.
package tracker

import (
	"context"
	"time"

	"github.com/mantis2ado/mantis2ado/internal/identity"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

// Target is the work item API the engine drives. Implementations are
// synchronous; retry and rate limiting live inside the adapter.
type Target interface {
	// Name returns the adapter name, e.g. "azuredevops".
	Name() string

	// FindByTag returns items in the configured project whose tags contain tag.
	// The match may be a substring match; callers filter for exact tags.
	FindByTag(ctx context.Context, tag string) ([]types.WorkItem, error)

	// CreateWorkItem creates an item of the given type. fields.State is used
	// as the initial state when set.
	CreateWorkItem(ctx context.Context, typ types.WorkItemType, fields types.WorkItemFields) (*types.WorkItem, error)

	// UpdateWorkItem overwrites the mapped fields of an existing item. State
	// is not changed.
	UpdateWorkItem(ctx context.Context, id int, fields types.WorkItemFields) (*types.WorkItem, error)

	// SetState moves an item to state in a single hop.
	SetState(ctx context.Context, id int, state types.State) error

	// ListComments returns an item's comments, oldest first.
	ListComments(ctx context.Context, id int) ([]types.Comment, error)

	// AddComment appends a comment.
	AddComment(ctx context.Context, id int, text string) (*types.Comment, error)

	// ListAttachments returns the files linked to an item.
	ListAttachments(ctx context.Context, id int) ([]types.Attachment, error)

	// AddAttachment uploads content and links it to the item with comment
	// stored on the relation.
	AddAttachment(ctx context.Context, id int, name string, content []byte, comment string) (*types.Attachment, error)
}

// DirectoryTarget is a Target that can also look up users.
type DirectoryTarget interface {
	Target
	identity.Directory
}

// Connection is the fully resolved connection context for a target.
type Connection struct {
	Organization string
	Project      string
	Token        string
	BaseURL      string // overrides the service endpoint (tests, on-prem servers)
	IdentityURL  string // overrides the identity directory endpoint

	RequestsPerSecond float64
	MaxRetries        int
	Timeout           time.Duration
}
