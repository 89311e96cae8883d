package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mantis2ado/mantis2ado/internal/tracker"
	"github.com/mantis2ado/mantis2ado/internal/types"
	"github.com/mantis2ado/mantis2ado/internal/workflow"
)

// Call records one operation made against a MemTarget.
type Call struct {
	Op    string
	ID    int
	State types.State
	Text  string
}

// MemTarget is an in-memory tracker.DirectoryTarget. Tag queries behave like
// the real service: they are substring matches.
type MemTarget struct {
	mu sync.Mutex

	items       map[int]*memItem
	users       map[string]types.TargetUser
	nextID      int
	nextComment int
	calls       []Call

	// Paths, when set, rejects state changes that skip forward over a state.
	Paths workflow.Paths

	// Failure injection. Each hook is consulted before the operation runs;
	// a non-nil error fails it.
	FailCreate     func(typ types.WorkItemType, fields types.WorkItemFields) error
	FailSetState   func(id int, state types.State) error
	FailAddComment func(id int, n int, text string) error // n counts successful adds on the item
	FailAttachment func(id int, name string) error
	FailFind       func(tag string) error

	// Unindexed hides items made by CreateWorkItem from FindByTag, as a
	// lagging query index would.
	Unindexed bool

	// AfterCreate runs after an item is created, e.g. to simulate a racing
	// creator.
	AfterCreate func(m *MemTarget, item types.WorkItem)
}

type memItem struct {
	item        types.WorkItem
	created     bool
	fields      types.WorkItemFields
	comments    []types.Comment
	attachments []types.Attachment
}

// NewMemTarget returns an empty target whose IDs start at 1000.
func NewMemTarget() *MemTarget {
	return &MemTarget{
		items:       make(map[int]*memItem),
		users:       make(map[string]types.TargetUser),
		nextID:      1000,
		nextComment: 1,
		Paths:       workflow.DefaultPaths(),
	}
}

var _ tracker.DirectoryTarget = (*MemTarget)(nil)

// Name implements tracker.Target.
func (m *MemTarget) Name() string { return "memory" }

// AddUser registers a directory user by unique name (email).
func (m *MemTarget) AddUser(u types.TargetUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(u.UniqueName)] = u
}

// Seed inserts an existing work item with comments, as if created earlier.
func (m *MemTarget) Seed(item types.WorkItem, comments ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == 0 {
		m.nextID++
		item.ID = m.nextID
	} else if item.ID > m.nextID {
		m.nextID = item.ID
	}
	mi := &memItem{item: item}
	for _, text := range comments {
		mi.comments = append(mi.comments, m.newComment(text))
	}
	m.items[item.ID] = mi
	return item.ID
}

func (m *MemTarget) newComment(text string) types.Comment {
	c := types.Comment{ID: m.nextComment, Text: text, CreatedAt: time.Now().UTC()}
	m.nextComment++
	return c
}

func (m *MemTarget) record(c Call) {
	m.calls = append(m.calls, c)
}

// Calls returns the recorded operations.
func (m *MemTarget) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the recorded operations with the given name.
func (m *MemTarget) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (m *MemTarget) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Items returns every stored work item, sorted by ID.
func (m *MemTarget) Items() []types.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.WorkItem, 0, len(m.items))
	for _, mi := range m.items {
		out = append(out, mi.item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Item returns one stored work item.
func (m *MemTarget) Item(id int) (types.WorkItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi, ok := m.items[id]
	if !ok {
		return types.WorkItem{}, false
	}
	return mi.item, true
}

// Fields returns the last fields written to an item.
func (m *MemTarget) Fields(id int) types.WorkItemFields {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.items[id]; ok {
		return mi.fields
	}
	return types.WorkItemFields{}
}

// Comments returns an item's comments in insertion order.
func (m *MemTarget) Comments(id int) []types.Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.items[id]; ok {
		return append([]types.Comment(nil), mi.comments...)
	}
	return nil
}

// Attachments returns an item's attachments.
func (m *MemTarget) Attachments(id int) []types.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.items[id]; ok {
		return append([]types.Attachment(nil), mi.attachments...)
	}
	return nil
}

func (m *MemTarget) get(op string, id int) (*memItem, error) {
	mi, ok := m.items[id]
	if !ok {
		return nil, &tracker.ServiceError{Op: op, StatusCode: 404, Message: fmt.Sprintf("work item %d does not exist", id)}
	}
	return mi, nil
}

// FindByTag implements tracker.Target with substring semantics.
func (m *MemTarget) FindByTag(_ context.Context, tag string) ([]types.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "FindByTag", Text: tag})
	if m.FailFind != nil {
		if err := m.FailFind(tag); err != nil {
			return nil, err
		}
	}
	var out []types.WorkItem
	for _, mi := range m.items {
		if mi.created && m.Unindexed {
			continue
		}
		for _, t := range mi.item.Tags {
			if strings.Contains(strings.ToLower(t), strings.ToLower(tag)) {
				out = append(out, mi.item)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateWorkItem implements tracker.Target.
func (m *MemTarget) CreateWorkItem(_ context.Context, typ types.WorkItemType, fields types.WorkItemFields) (*types.WorkItem, error) {
	m.mu.Lock()
	m.record(Call{Op: "CreateWorkItem", Text: string(typ)})
	if m.FailCreate != nil {
		if err := m.FailCreate(typ, fields); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	if fields.AssignedTo != "" {
		if _, ok := m.users[strings.ToLower(fields.AssignedTo)]; !ok {
			m.mu.Unlock()
			return nil, &tracker.ServiceError{Op: "create work item", StatusCode: 400,
				Message: fmt.Sprintf("TF401320: Rule Error for field Assigned To. Error code: Required, HasValues, LimitedToValues, AllowsOldValue, InvalidEmpty, unknown identity %s", fields.AssignedTo)}
		}
	}
	state := fields.State
	if state == "" {
		state = m.Paths.InitialState(typ)
	}
	m.nextID++
	item := types.WorkItem{
		ID:         m.nextID,
		Rev:        1,
		Type:       typ,
		Title:      fields.Title,
		State:      state,
		Priority:   fields.Priority,
		Tags:       append([]string(nil), fields.Tags...),
		AssignedTo: fields.AssignedTo,
	}
	m.items[item.ID] = &memItem{item: item, fields: fields, created: true}
	after := m.AfterCreate
	m.mu.Unlock()

	if after != nil {
		after(m, item)
	}
	return &item, nil
}

// UpdateWorkItem implements tracker.Target.
func (m *MemTarget) UpdateWorkItem(_ context.Context, id int, fields types.WorkItemFields) (*types.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "UpdateWorkItem", ID: id})
	mi, err := m.get("update work item", id)
	if err != nil {
		return nil, err
	}
	if fields.AssignedTo != "" {
		if _, ok := m.users[strings.ToLower(fields.AssignedTo)]; !ok {
			return nil, &tracker.ServiceError{Op: "update work item", StatusCode: 400, Message: "unknown identity " + fields.AssignedTo}
		}
	}
	mi.fields = fields
	mi.item.Title = fields.Title
	mi.item.Priority = fields.Priority
	mi.item.Tags = append([]string(nil), fields.Tags...)
	mi.item.AssignedTo = fields.AssignedTo
	mi.item.Rev++
	out := mi.item
	return &out, nil
}

// SetState implements tracker.Target. With Paths set, a forward move must be
// a single step along the type's path.
func (m *MemTarget) SetState(_ context.Context, id int, state types.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "SetState", ID: id, State: state})
	mi, err := m.get("set state", id)
	if err != nil {
		return err
	}
	if m.FailSetState != nil {
		if err := m.FailSetState(id, state); err != nil {
			return err
		}
	}
	if m.Paths != nil {
		hops, err := m.Paths.Plan(mi.item.Type, mi.item.State, state)
		if err != nil || len(hops) > 1 {
			return &tracker.ServiceError{Op: "set state", StatusCode: 400,
				Message: fmt.Sprintf("invalid transition %s -> %s", mi.item.State, state)}
		}
	}
	mi.item.State = state
	mi.item.Rev++
	return nil
}

// ListComments implements tracker.Target.
func (m *MemTarget) ListComments(_ context.Context, id int) ([]types.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "ListComments", ID: id})
	mi, err := m.get("list comments", id)
	if err != nil {
		return nil, err
	}
	return append([]types.Comment(nil), mi.comments...), nil
}

// AddComment implements tracker.Target.
func (m *MemTarget) AddComment(_ context.Context, id int, text string) (*types.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "AddComment", ID: id, Text: text})
	mi, err := m.get("add comment", id)
	if err != nil {
		return nil, err
	}
	if m.FailAddComment != nil {
		if err := m.FailAddComment(id, len(mi.comments), text); err != nil {
			return nil, err
		}
	}
	c := m.newComment(text)
	mi.comments = append(mi.comments, c)
	return &c, nil
}

// ListAttachments implements tracker.Target.
func (m *MemTarget) ListAttachments(_ context.Context, id int) ([]types.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "ListAttachments", ID: id})
	mi, err := m.get("list attachments", id)
	if err != nil {
		return nil, err
	}
	return append([]types.Attachment(nil), mi.attachments...), nil
}

// AddAttachment implements tracker.Target.
func (m *MemTarget) AddAttachment(_ context.Context, id int, name string, content []byte, comment string) (*types.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "AddAttachment", ID: id, Text: name})
	mi, err := m.get("add attachment", id)
	if err != nil {
		return nil, err
	}
	if m.FailAttachment != nil {
		if err := m.FailAttachment(id, name); err != nil {
			return nil, err
		}
	}
	a := types.Attachment{
		Name:    name,
		Size:    int64(len(content)),
		Comment: comment,
		URL:     fmt.Sprintf("mem://attachments/%d/%d", id, len(mi.attachments)+1),
	}
	mi.attachments = append(mi.attachments, a)
	return &a, nil
}

// LookupUserByEmail implements identity.Directory.
func (m *MemTarget) LookupUserByEmail(_ context.Context, email string) (*types.TargetUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "LookupUserByEmail", Text: email})
	if u, ok := m.users[strings.ToLower(email)]; ok {
		return &u, nil
	}
	return nil, nil
}
