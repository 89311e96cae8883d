// Package azuredevops implements the Azure DevOps work item target.
package azuredevops

import (
	"time"
)

// API constants
const (
	DefaultTimeout    = 30 * time.Second
	DefaultRPS        = 5.0
	DefaultMaxRetries = 5
	MaxPageSize       = 200
	APIVersion        = "7.0"
	CommentsVersion   = "7.0-preview.3"
	IdentityHost      = "https://vssps.dev.azure.com"
)

// Field reference names written by the migration.
const (
	FieldTitle       = "System.Title"
	FieldDescription = "System.Description"
	FieldReproSteps  = "Microsoft.VSTS.TCM.ReproSteps"
	FieldPriority    = "Microsoft.VSTS.Common.Priority"
	FieldTags        = "System.Tags"
	FieldAssignedTo  = "System.AssignedTo"
	FieldState       = "System.State"
)

// RelAttachedFile is the relation type of file attachments.
const RelAttachedFile = "AttachedFile"

// WorkItem represents an Azure DevOps work item.
type WorkItem struct {
	ID        int                `json:"id"`
	Rev       int                `json:"rev"`
	URL       string             `json:"url"`
	Fields    WorkItemFields     `json:"fields"`
	Relations []WorkItemRelation `json:"relations,omitempty"`
	Links     *WorkItemLinks     `json:"_links,omitempty"`
}

// WorkItemFields contains the work item field values.
type WorkItemFields struct {
	Title        string    `json:"System.Title"`
	Description  string    `json:"System.Description,omitempty"`
	ReproSteps   string    `json:"Microsoft.VSTS.TCM.ReproSteps,omitempty"`
	State        string    `json:"System.State"`
	WorkItemType string    `json:"System.WorkItemType"`
	Priority     int       `json:"Microsoft.VSTS.Common.Priority,omitempty"` // 1=High, 2=Medium, 3=Low, 4=Backlog
	AssignedTo   *Identity `json:"System.AssignedTo,omitempty"`
	CreatedDate  string    `json:"System.CreatedDate,omitempty"`
	ChangedDate  string    `json:"System.ChangedDate,omitempty"`
	Tags         string    `json:"System.Tags,omitempty"` // Semicolon-separated
	TeamProject  string    `json:"System.TeamProject,omitempty"`
}

// Identity represents an Azure DevOps user identity.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// WorkItemLinks contains hypermedia links.
type WorkItemLinks struct {
	Self Link `json:"self"`
	HTML Link `json:"html"`
}

// Link is a hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// WorkItemRelation represents a link from a work item to another resource.
type WorkItemRelation struct {
	Rel        string                 `json:"rel"`
	URL        string                 `json:"url"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// WIQLQueryRequest is the request body for WIQL queries.
type WIQLQueryRequest struct {
	Query string `json:"query"`
}

// WIQLQueryResponse is the response from a WIQL query.
type WIQLQueryResponse struct {
	QueryType       string        `json:"queryType"`
	QueryResultType string        `json:"queryResultType"`
	AsOf            string        `json:"asOf"`
	WorkItems       []WorkItemRef `json:"workItems"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItemBatchResponse is the response from batch get.
type WorkItemBatchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// PatchOperation is one JSON Patch operation for creating or updating work items.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
	From  string      `json:"from,omitempty"`
}

// Comment is a work item comment (comments API).
type Comment struct {
	ID          int       `json:"id"`
	WorkItemID  int       `json:"workItemId"`
	Text        string    `json:"text"`
	CreatedBy   *Identity `json:"createdBy,omitempty"`
	CreatedDate time.Time `json:"createdDate"`
}

// CommentList is one page of comments.
type CommentList struct {
	TotalCount        int       `json:"totalCount"`
	Count             int       `json:"count"`
	Comments          []Comment `json:"comments"`
	ContinuationToken string    `json:"continuationToken,omitempty"`
}

// CommentCreate is the body of an add-comment request.
type CommentCreate struct {
	Text string `json:"text"`
}

// AttachmentReference is returned by an attachment upload.
type AttachmentReference struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// IdentityQueryResponse is the result of an identity directory lookup.
type IdentityQueryResponse struct {
	Count int              `json:"count"`
	Value []IdentityRecord `json:"value"`
}

// IdentityRecord is one identity from the directory.
type IdentityRecord struct {
	ID                  string                 `json:"id"`
	ProviderDisplayName string                 `json:"providerDisplayName"`
	IsActive            bool                   `json:"isActive"`
	Properties          map[string]PropertyBag `json:"properties,omitempty"`
}

// PropertyBag is a typed identity property value.
type PropertyBag struct {
	Type  string `json:"$type"`
	Value string `json:"$value"`
}

// Mail returns the identity's mail address or account name.
func (r IdentityRecord) Mail() string {
	for _, key := range []string{"Mail", "Account"} {
		if p, ok := r.Properties[key]; ok && p.Value != "" {
			return p.Value
		}
	}
	return ""
}

// ErrorResponse is the service's error body.
type ErrorResponse struct {
	Message string `json:"message"`
	TypeKey string `json:"typeKey,omitempty"`
}
