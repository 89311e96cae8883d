package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mantis2ado/mantis2ado/internal/tracker"
	"github.com/mantis2ado/mantis2ado/internal/tracker/azuredevops"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

var containsRe = regexp.MustCompile(`CONTAINS '((?:[^']|'')*)'`)

// AzureDevOpsMockServer serves the Azure DevOps REST routes used by the
// migration on top of a MemTarget, so state written over HTTP can be
// inspected directly.
type AzureDevOpsMockServer struct {
	*RecordingServer
	Mem *MemTarget

	mu      sync.Mutex
	blobs   map[string]blob // attachment URL -> uploaded content
	nextRef int
}

type blob struct {
	name    string
	content []byte
}

// NewAzureDevOpsMockServer creates a new Azure DevOps mock server.
func NewAzureDevOpsMockServer() *AzureDevOpsMockServer {
	m := &AzureDevOpsMockServer{
		RecordingServer: NewRecordingServer(),
		Mem:             NewMemTarget(),
		blobs:           make(map[string]blob),
	}
	m.Handle(m.handleADORequest)
	return m
}

// handleADORequest dispatches Azure DevOps API routes.
func (m *AzureDevOpsMockServer) handleADORequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/_apis/identities") && r.Method == http.MethodGet:
		m.handleIdentities(w, r)
	case strings.HasSuffix(path, "/_apis/wit/wiql") && r.Method == http.MethodPost:
		m.handleWIQLQuery(w, r)
	case strings.HasSuffix(path, "/_apis/wit/attachments") && r.Method == http.MethodPost:
		m.handleUpload(w, r)
	case strings.HasSuffix(path, "/comments") && r.Method == http.MethodGet:
		m.handleListComments(w, r)
	case strings.HasSuffix(path, "/comments") && r.Method == http.MethodPost:
		m.handleAddComment(w, r)
	case strings.Contains(path, "/_apis/wit/workitems/$") && r.Method == http.MethodPost:
		m.handleCreateWorkItem(w, r)
	case strings.HasSuffix(path, "/_apis/wit/workitems") && r.Method == http.MethodGet:
		m.handleGetWorkItems(w, r)
	case strings.Contains(path, "/_apis/wit/workitems/") && r.Method == http.MethodGet:
		m.handleGetWorkItem(w, r)
	case strings.Contains(path, "/_apis/wit/workitems/") && r.Method == http.MethodPatch:
		m.handleUpdateWorkItem(w, r)
	default:
		writeStatus(w, http.StatusNotFound, map[string]string{"message": "Not found"})
	}
}

// writeErr converts a MemTarget error into a service response.
func writeErr(w http.ResponseWriter, err error) {
	var se *tracker.ServiceError
	if errors.As(err, &se) && se.StatusCode != 0 {
		writeStatus(w, se.StatusCode, azuredevops.ErrorResponse{Message: se.Message})
		return
	}
	writeStatus(w, http.StatusInternalServerError, azuredevops.ErrorResponse{Message: err.Error()})
}

func (m *AzureDevOpsMockServer) wire(item types.WorkItem) azuredevops.WorkItem {
	fields := m.Mem.Fields(item.ID)
	wi := azuredevops.WorkItem{
		ID:  item.ID,
		Rev: item.Rev,
		URL: fmt.Sprintf("%s/_apis/wit/workitems/%d", m.URL(), item.ID),
		Fields: azuredevops.WorkItemFields{
			Title:        item.Title,
			Description:  fields.Description,
			ReproSteps:   fields.ReproSteps,
			State:        string(item.State),
			WorkItemType: string(item.Type),
			Priority:     item.Priority,
			Tags:         types.JoinTags(item.Tags),
		},
	}
	if item.AssignedTo != "" {
		wi.Fields.AssignedTo = &azuredevops.Identity{UniqueName: item.AssignedTo, DisplayName: item.AssignedTo}
	}
	return wi
}

// handleWIQLQuery answers tag queries with substring semantics.
func (m *AzureDevOpsMockServer) handleWIQLQuery(w http.ResponseWriter, r *http.Request) {
	var req azuredevops.WIQLQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, azuredevops.ErrorResponse{Message: err.Error()})
		return
	}
	match := containsRe.FindStringSubmatch(req.Query)
	if match == nil {
		writeStatus(w, http.StatusBadRequest, azuredevops.ErrorResponse{Message: "unsupported query"})
		return
	}
	tag := strings.ReplaceAll(match[1], "''", "'")

	items, err := m.Mem.FindByTag(r.Context(), tag)
	if err != nil {
		writeErr(w, err)
		return
	}
	refs := make([]azuredevops.WorkItemRef, len(items))
	for i, item := range items {
		refs[i] = azuredevops.WorkItemRef{ID: item.ID, URL: fmt.Sprintf("%s/_apis/wit/workitems/%d", m.URL(), item.ID)}
	}
	writeJSON(w, azuredevops.WIQLQueryResponse{QueryType: "flat", QueryResultType: "workItem", WorkItems: refs})
}

// handleGetWorkItems handles batch get requests.
func (m *AzureDevOpsMockServer) handleGetWorkItems(w http.ResponseWriter, r *http.Request) {
	var out []azuredevops.WorkItem
	for _, s := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if item, ok := m.Mem.Item(id); ok {
			out = append(out, m.wire(item))
		}
	}
	writeJSON(w, azuredevops.WorkItemBatchResponse{Count: len(out), Value: out})
}

// handleGetWorkItem returns one work item with its attachment relations.
func (m *AzureDevOpsMockServer) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, _ := lastInt(r.URL.Path)
	item, ok := m.Mem.Item(id)
	if !ok {
		writeStatus(w, http.StatusNotFound, azuredevops.ErrorResponse{Message: "Work item not found"})
		return
	}
	wi := m.wire(item)
	for _, a := range m.Mem.Attachments(id) {
		wi.Relations = append(wi.Relations, azuredevops.WorkItemRelation{
			Rel: azuredevops.RelAttachedFile,
			URL: a.URL,
			Attributes: map[string]interface{}{
				"name":         a.Name,
				"comment":      a.Comment,
				"resourceSize": a.Size,
			},
		})
	}
	writeJSON(w, wi)
}

func decodeOps(r *http.Request) ([]azuredevops.PatchOperation, error) {
	if ct := r.Header.Get("Content-Type"); ct != "application/json-patch+json" {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}
	var ops []azuredevops.PatchOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// opsFields folds field operations into WorkItemFields.
func opsFields(ops []azuredevops.PatchOperation) (fields types.WorkItemFields, stateOnly bool) {
	stateOnly = true
	for _, op := range ops {
		name := strings.TrimPrefix(op.Path, "/fields/")
		s, _ := op.Value.(string)
		switch name {
		case azuredevops.FieldTitle:
			fields.Title = s
		case azuredevops.FieldDescription:
			fields.Description = s
		case azuredevops.FieldReproSteps:
			fields.ReproSteps = s
		case azuredevops.FieldPriority:
			if f, ok := op.Value.(float64); ok {
				fields.Priority = int(f)
			}
		case azuredevops.FieldTags:
			fields.Tags = types.ParseTags(s)
		case azuredevops.FieldAssignedTo:
			fields.AssignedTo = s
		case azuredevops.FieldState:
			fields.State = types.State(s)
			continue
		}
		stateOnly = false
	}
	return fields, stateOnly
}

// handleCreateWorkItem creates a work item from JSON Patch operations.
func (m *AzureDevOpsMockServer) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	typ := types.WorkItemType(r.URL.Path[strings.LastIndex(r.URL.Path, "$")+1:])
	ops, err := decodeOps(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, azuredevops.ErrorResponse{Message: err.Error()})
		return
	}
	fields, _ := opsFields(ops)
	item, err := m.Mem.CreateWorkItem(r.Context(), typ, fields)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, m.wire(*item))
}

// handleUpdateWorkItem applies a state change, a relation add, or a field
// update.
func (m *AzureDevOpsMockServer) handleUpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	id, _ := lastInt(r.URL.Path)
	ops, err := decodeOps(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, azuredevops.ErrorResponse{Message: err.Error()})
		return
	}

	if len(ops) == 1 && ops[0].Path == "/relations/-" {
		m.linkAttachment(w, r, id, ops[0])
		return
	}

	fields, stateOnly := opsFields(ops)
	if stateOnly && fields.State != "" {
		if err := m.Mem.SetState(r.Context(), id, fields.State); err != nil {
			writeErr(w, err)
			return
		}
	} else if _, err := m.Mem.UpdateWorkItem(r.Context(), id, fields); err != nil {
		writeErr(w, err)
		return
	}
	item, _ := m.Mem.Item(id)
	writeJSON(w, m.wire(item))
}

func (m *AzureDevOpsMockServer) linkAttachment(w http.ResponseWriter, r *http.Request, id int, op azuredevops.PatchOperation) {
	rel, _ := op.Value.(map[string]interface{})
	u, _ := rel["url"].(string)
	attrs, _ := rel["attributes"].(map[string]interface{})
	comment, _ := attrs["comment"].(string)

	m.mu.Lock()
	b, ok := m.blobs[u]
	m.mu.Unlock()
	if !ok {
		writeStatus(w, http.StatusBadRequest, azuredevops.ErrorResponse{Message: "unknown attachment " + u})
		return
	}
	if _, err := m.Mem.AddAttachment(r.Context(), id, b.name, b.content, comment); err != nil {
		writeErr(w, err)
		return
	}
	item, _ := m.Mem.Item(id)
	writeJSON(w, m.wire(item))
}

// handleUpload stores an attachment blob.
func (m *AzureDevOpsMockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	content, _ := io.ReadAll(r.Body)
	name := r.URL.Query().Get("fileName")

	m.mu.Lock()
	m.nextRef++
	ref := azuredevops.AttachmentReference{
		ID:  fmt.Sprintf("blob-%d", m.nextRef),
		URL: fmt.Sprintf("%s/_apis/wit/attachments/blob-%d?fileName=%s", m.URL(), m.nextRef, url.QueryEscape(name)),
	}
	m.blobs[ref.URL] = blob{name: name, content: content}
	m.mu.Unlock()

	writeStatus(w, http.StatusCreated, ref)
}

// handleListComments pages through comments using $top and an offset
// continuation token.
func (m *AzureDevOpsMockServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, _ := lastInt(strings.TrimSuffix(r.URL.Path, "/comments"))
	all, err := m.Mem.ListComments(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
	if top <= 0 {
		top = 200
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("continuationToken"))
	start = min(start, len(all))
	end := min(start+top, len(all))

	page := azuredevops.CommentList{TotalCount: len(all), Count: end - start}
	for _, c := range all[start:end] {
		page.Comments = append(page.Comments, azuredevops.Comment{ID: c.ID, WorkItemID: id, Text: c.Text, CreatedDate: c.CreatedAt})
	}
	if end < len(all) {
		page.ContinuationToken = strconv.Itoa(end)
	}
	writeJSON(w, page)
}

func (m *AzureDevOpsMockServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, _ := lastInt(strings.TrimSuffix(r.URL.Path, "/comments"))
	var req azuredevops.CommentCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, azuredevops.ErrorResponse{Message: err.Error()})
		return
	}
	c, err := m.Mem.AddComment(r.Context(), id, req.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, azuredevops.Comment{ID: c.ID, WorkItemID: id, Text: c.Text, CreatedDate: c.CreatedAt})
}

// handleIdentities answers directory lookups from the MemTarget's users.
func (m *AzureDevOpsMockServer) handleIdentities(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("filterValue")
	u, _ := m.Mem.LookupUserByEmail(r.Context(), email)
	resp := azuredevops.IdentityQueryResponse{}
	if u != nil {
		resp.Value = append(resp.Value, azuredevops.IdentityRecord{
			ID:                  u.ID,
			ProviderDisplayName: u.DisplayName,
			IsActive:            true,
			Properties: map[string]azuredevops.PropertyBag{
				"Mail": {Type: "System.String", Value: u.UniqueName},
			},
		})
	}
	resp.Count = len(resp.Value)
	writeJSON(w, resp)
}
