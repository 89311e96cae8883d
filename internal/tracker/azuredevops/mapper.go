package azuredevops

import (
	"net/url"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// fieldOps builds the JSON Patch operations that write fields. Creation
// uses "add" and includes the initial state; updates use "replace" and
// leave state alone. An empty assignee clears the field on update. Repro
// steps are only set for Bugs, so they are written only when present.
func fieldOps(fields types.WorkItemFields, create bool) []PatchOperation {
	op := "replace"
	if create {
		op = "add"
	}
	set := func(field string, value interface{}) PatchOperation {
		return PatchOperation{Op: op, Path: "/fields/" + field, Value: value}
	}

	ops := []PatchOperation{set(FieldTitle, fields.Title)}
	if fields.Description != "" || !create {
		ops = append(ops, set(FieldDescription, fields.Description))
	}
	if fields.ReproSteps != "" {
		ops = append(ops, set(FieldReproSteps, fields.ReproSteps))
	}
	if fields.Priority > 0 {
		ops = append(ops, set(FieldPriority, fields.Priority))
	}
	if len(fields.Tags) > 0 {
		ops = append(ops, set(FieldTags, types.JoinTags(fields.Tags)))
	}
	switch {
	case fields.AssignedTo != "":
		ops = append(ops, set(FieldAssignedTo, fields.AssignedTo))
	case !create:
		ops = append(ops, PatchOperation{Op: "replace", Path: "/fields/" + FieldAssignedTo, Value: ""})
	}
	if create && fields.State != "" {
		ops = append(ops, set(FieldState, string(fields.State)))
	}
	return ops
}

// stateOps builds the patch for a single state change.
func stateOps(state types.State) []PatchOperation {
	return []PatchOperation{{Op: "add", Path: "/fields/" + FieldState, Value: string(state)}}
}

// attachmentOps links an uploaded file to a work item.
func attachmentOps(ref *AttachmentReference, comment string) []PatchOperation {
	return []PatchOperation{{
		Op:   "add",
		Path: "/relations/-",
		Value: WorkItemRelation{
			Rel:        RelAttachedFile,
			URL:        ref.URL,
			Attributes: map[string]interface{}{"comment": comment},
		},
	}}
}

// toWorkItem converts a wire work item.
func toWorkItem(wi *WorkItem, webURL string) types.WorkItem {
	out := types.WorkItem{
		ID:       wi.ID,
		Rev:      wi.Rev,
		Type:     types.WorkItemType(wi.Fields.WorkItemType),
		Title:    wi.Fields.Title,
		State:    types.State(wi.Fields.State),
		Priority: wi.Fields.Priority,
		Tags:     types.ParseTags(wi.Fields.Tags),
		URL:      webURL,
	}
	if typ, ok := types.ParseWorkItemType(wi.Fields.WorkItemType); ok {
		out.Type = typ
	}
	if st, ok := types.ParseState(wi.Fields.State); ok {
		out.State = st
	}
	if wi.Fields.AssignedTo != nil {
		out.AssignedTo = wi.Fields.AssignedTo.UniqueName
	}
	if wi.Links != nil && wi.Links.HTML.Href != "" {
		out.URL = wi.Links.HTML.Href
	}
	return out
}

func toComment(c *Comment) types.Comment {
	return types.Comment{ID: c.ID, Text: c.Text, CreatedAt: c.CreatedDate}
}

// toAttachments extracts the attached files from a work item's relations.
func toAttachments(wi *WorkItem) []types.Attachment {
	var out []types.Attachment
	for _, rel := range wi.Relations {
		if rel.Rel != RelAttachedFile {
			continue
		}
		a := types.Attachment{URL: rel.URL}
		if v, ok := rel.Attributes["name"].(string); ok {
			a.Name = v
		}
		if v, ok := rel.Attributes["comment"].(string); ok {
			a.Comment = v
		}
		switch v := rel.Attributes["resourceSize"].(type) {
		case float64:
			a.Size = int64(v)
		case int64:
			a.Size = v
		}
		if a.Name == "" {
			a.Name = nameFromURL(rel.URL)
		}
		out = append(out, a)
	}
	return out
}

// nameFromURL reads the fileName query parameter of an attachment URL.
func nameFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("fileName")
}
