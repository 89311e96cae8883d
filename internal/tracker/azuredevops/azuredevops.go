package azuredevops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mantis2ado/mantis2ado/internal/tracker"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

func init() {
	// Register the Azure DevOps target
	tracker.Register("azuredevops", func(conn tracker.Connection) (tracker.DirectoryTarget, error) {
		t, err := New(conn)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

// Target implements tracker.DirectoryTarget for Azure DevOps.
type Target struct {
	client *Client
}

var _ tracker.DirectoryTarget = (*Target)(nil)

// New validates conn and returns a connected target.
func New(conn tracker.Connection) (*Target, error) {
	var missing []string
	if strings.TrimSpace(conn.Organization) == "" {
		missing = append(missing, "organization")
	}
	if strings.TrimSpace(conn.Project) == "" {
		missing = append(missing, "project")
	}
	if conn.Token == "" {
		missing = append(missing, "personal access token")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("azure devops connection: missing %s", strings.Join(missing, ", "))
	}

	client := NewClient(conn.Organization, conn.Project, conn.Token)
	if conn.BaseURL != "" {
		client.WithEndpoint(conn.BaseURL)
	}
	if conn.IdentityURL != "" {
		client.WithIdentityEndpoint(conn.IdentityURL)
	}
	if conn.RequestsPerSecond > 0 {
		client.WithRateLimit(conn.RequestsPerSecond)
	}
	if conn.MaxRetries > 0 {
		client.WithRetries(conn.MaxRetries)
	}
	client.WithTimeout(conn.Timeout)
	return NewTarget(client), nil
}

// NewTarget wraps an existing client.
func NewTarget(client *Client) *Target {
	return &Target{client: client}
}

// Client returns the underlying Azure DevOps client for advanced operations.
func (t *Target) Client() *Client {
	return t.client
}

// Name returns the target identifier.
func (t *Target) Name() string {
	return "azuredevops"
}

// FindByTag returns items whose tags contain tag, newest first.
func (t *Target) FindByTag(ctx context.Context, tag string) ([]types.WorkItem, error) {
	ids, err := t.client.QueryByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	wis, err := t.client.GetWorkItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]types.WorkItem, 0, len(wis))
	for i := range wis {
		out = append(out, toWorkItem(&wis[i], t.client.BuildWorkItemURL(wis[i].ID)))
	}
	return out, nil
}

// CreateWorkItem creates a work item in fields.State (or the type's default
// initial state).
func (t *Target) CreateWorkItem(ctx context.Context, typ types.WorkItemType, fields types.WorkItemFields) (*types.WorkItem, error) {
	wi, err := t.client.CreateWorkItem(ctx, string(typ), fieldOps(fields, true))
	if err != nil {
		return nil, err
	}
	item := toWorkItem(wi, t.client.BuildWorkItemURL(wi.ID))
	if item.Type == "" {
		item.Type = typ
	}
	return &item, nil
}

// UpdateWorkItem overwrites the mapped fields of an existing work item.
func (t *Target) UpdateWorkItem(ctx context.Context, id int, fields types.WorkItemFields) (*types.WorkItem, error) {
	wi, err := t.client.UpdateWorkItem(ctx, id, fieldOps(fields, false))
	if err != nil {
		return nil, err
	}
	item := toWorkItem(wi, t.client.BuildWorkItemURL(wi.ID))
	return &item, nil
}

// SetState performs one state change.
func (t *Target) SetState(ctx context.Context, id int, state types.State) error {
	_, err := t.client.UpdateWorkItem(ctx, id, stateOps(state))
	return err
}

// ListComments returns the comments of a work item, oldest first.
func (t *Target) ListComments(ctx context.Context, id int) ([]types.Comment, error) {
	cs, err := t.client.ListComments(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]types.Comment, len(cs))
	for i := range cs {
		out[i] = toComment(&cs[i])
	}
	return out, nil
}

// AddComment appends a comment.
func (t *Target) AddComment(ctx context.Context, id int, text string) (*types.Comment, error) {
	c, err := t.client.AddComment(ctx, id, text)
	if err != nil {
		return nil, err
	}
	out := toComment(c)
	return &out, nil
}

// ListAttachments returns the files attached to a work item.
func (t *Target) ListAttachments(ctx context.Context, id int) ([]types.Attachment, error) {
	wi, err := t.client.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return toAttachments(wi), nil
}

// AddAttachment uploads content and links it to the work item with comment
// stored on the relation.
func (t *Target) AddAttachment(ctx context.Context, id int, name string, content []byte, comment string) (*types.Attachment, error) {
	ref, err := t.client.UploadAttachment(ctx, name, content)
	if err != nil {
		return nil, err
	}
	if _, err := t.client.UpdateWorkItem(ctx, id, attachmentOps(ref, comment)); err != nil {
		return nil, fmt.Errorf("linking attachment %s: %w", name, err)
	}
	return &types.Attachment{Name: name, URL: ref.URL, Size: int64(len(content)), Comment: comment}, nil
}

// LookupUserByEmail returns the active directory user whose mail address is
// exactly email, or nil when there is none.
func (t *Target) LookupUserByEmail(ctx context.Context, email string) (*types.TargetUser, error) {
	if email == "" {
		return nil, errors.New("empty email")
	}
	records, err := t.client.LookupIdentity(ctx, email)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		mail := r.Mail()
		if !r.IsActive || !strings.EqualFold(mail, email) {
			continue
		}
		return &types.TargetUser{ID: r.ID, DisplayName: r.ProviderDisplayName, UniqueName: mail}, nil
	}
	return nil, nil
}
