package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/mantis2ado/mantis2ado/internal/tracker"
)

// Client provides methods to interact with the Azure DevOps REST API.
// Every request passes through a token-bucket rate limiter and is retried
// with exponential backoff when the service reports a transient failure.
type Client struct {
	Organization string // Organization name or URL
	Project      string
	PAT          string // Personal Access Token
	BaseURL      string // Full base URL (derived from Organization)
	IdentityURL  string // Identity directory base URL
	HTTPClient   *http.Client

	// MaxRetries bounds retries of a transient failure.
	MaxRetries int

	// MaxRetryWait caps how long a Retry-After header may stall a request.
	MaxRetryWait time.Duration

	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

// NewClient creates a new Azure DevOps client.
func NewClient(organization, project, pat string) *Client {
	// Handle both organization name and full URL
	baseURL := organization
	identityURL := ""
	if !strings.HasPrefix(organization, "http") {
		baseURL = fmt.Sprintf("https://dev.azure.com/%s", organization)
		identityURL = fmt.Sprintf("%s/%s", IdentityHost, organization)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if identityURL == "" {
		identityURL = baseURL
	}

	return &Client{
		Organization: organization,
		Project:      project,
		PAT:          pat,
		BaseURL:      baseURL,
		IdentityURL:  identityURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		MaxRetries:   DefaultMaxRetries,
		MaxRetryWait: time.Minute,
		limiter:      rate.NewLimiter(rate.Limit(DefaultRPS), 1),
		newBackOff:   defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 5 * time.Minute
	return bo
}

// WithEndpoint points the client (and its identity lookups) at a different
// server, e.g. an on-premises collection or a test server.
func (c *Client) WithEndpoint(endpoint string) *Client {
	endpoint = strings.TrimSuffix(endpoint, "/")
	c.BaseURL = endpoint
	c.IdentityURL = endpoint
	return c
}

// WithIdentityEndpoint overrides the identity directory base URL.
func (c *Client) WithIdentityEndpoint(endpoint string) *Client {
	c.IdentityURL = strings.TrimSuffix(endpoint, "/")
	return c
}

// WithRateLimit sets the sustained request rate. Zero or less disables
// limiting.
func (c *Client) WithRateLimit(rps float64) *Client {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
		return c
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return c
}

// WithRetries sets the retry bound for transient failures.
func (c *Client) WithRetries(n int) *Client {
	if n >= 0 {
		c.MaxRetries = n
	}
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.HTTPClient.Timeout = d
	}
	return c
}

// WithBackOff replaces the retry schedule.
func (c *Client) WithBackOff(f func() backoff.BackOff) *Client {
	if f != nil {
		c.newBackOff = f
	}
	return c
}

// request is one REST call.
type request struct {
	op          string // operation name for errors, e.g. "create work item"
	method      string
	url         string
	body        []byte
	contentType string
}

// projectURL builds a project-scoped API URL.
func (c *Client) projectURL(path, version string, query url.Values) string {
	return c.buildURL(c.BaseURL+"/"+url.PathEscape(c.Project)+"/_apis/"+path, version, query)
}

func (c *Client) buildURL(base, version string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", version)
	return base + "?" + query.Encode()
}

// jsonRequest marshals body into a request.
func jsonRequest(op, method, u string, body interface{}, contentType string) (request, error) {
	r := request{op: op, method: method, url: u, contentType: contentType}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return r, fmt.Errorf("failed to marshal request body: %w", err)
		}
		r.body = data
		if r.contentType == "" {
			r.contentType = "application/json"
		}
	}
	return r, nil
}

// do performs a request with rate limiting and retry. Transient failures
// (429, 5xx, transport errors) are retried up to MaxRetries times; anything
// else fails immediately. A Retry-After header, capped by MaxRetryWait,
// replaces the next backoff interval.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var out []byte
	policy := &hintedBackOff{BackOff: c.newBackOff()}
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.MaxRetries)), ctx)
	err := backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		body, retryAfter, err := c.once(ctx, r)
		if err == nil {
			out = body
			return nil
		}
		var se *tracker.ServiceError
		if !errors.As(err, &se) || !se.Transient {
			return backoff.Permanent(err)
		}
		if retryAfter > 0 {
			policy.hint = min(retryAfter, c.MaxRetryWait)
		}
		return err
	}, bo)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// hintedBackOff returns a server-provided wait once in place of the wrapped
// policy's next interval.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	if d := b.hint; d > 0 {
		b.hint = 0
		return d
	}
	return b.BackOff.NextBackOff()
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}

// once performs a single HTTP exchange.
func (c *Client) once(ctx context.Context, r request) ([]byte, time.Duration, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	// Azure DevOps uses Basic auth with empty username and PAT as password
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.PAT))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, &tracker.ServiceError{Op: r.op, Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &tracker.ServiceError{Op: r.op, StatusCode: resp.StatusCode, Transient: true, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, 0, nil
	}
	return nil, retryAfter(resp.Header.Get("Retry-After")), &tracker.ServiceError{
		Op:         r.op,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(respBody),
		Transient:  isTransientStatus(resp.StatusCode),
	}
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as a date.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func errorMessage(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

// QueryByTag runs a WIQL query for work items in the project whose tags
// contain tag. CONTAINS is a substring match.
func (c *Client) QueryByTag(ctx context.Context, tag string) ([]int, error) {
	wiql := fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s' AND [System.Tags] CONTAINS '%s' ORDER BY [System.Id] DESC",
		escapeWIQL(c.Project), escapeWIQL(tag))

	r, err := jsonRequest("query work items", http.MethodPost, c.projectURL("wit/wiql", APIVersion, nil), WIQLQueryRequest{Query: wiql}, "")
	if err != nil {
		return nil, err
	}
	respBody, err := c.do(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("WIQL query failed: %w", err)
	}

	var queryResp WIQLQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("failed to parse WIQL response: %w", err)
	}
	ids := make([]int, len(queryResp.WorkItems))
	for i, ref := range queryResp.WorkItems {
		ids[i] = ref.ID
	}
	return ids, nil
}

func escapeWIQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// GetWorkItems retrieves work items by ID in batches.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]WorkItem, error) {
	var all []WorkItem
	for i := 0; i < len(ids); i += MaxPageSize {
		end := min(i+MaxPageSize, len(ids))
		batch := ids[i:end]

		idStrings := make([]string, len(batch))
		for j, id := range batch {
			idStrings[j] = strconv.Itoa(id)
		}
		q := url.Values{}
		q.Set("ids", strings.Join(idStrings, ","))
		q.Set("$expand", "all")

		respBody, err := c.do(ctx, request{op: "get work items", method: http.MethodGet, url: c.projectURL("wit/workitems", APIVersion, q)})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch work items batch: %w", err)
		}

		var batchResp WorkItemBatchResponse
		if err := json.Unmarshal(respBody, &batchResp); err != nil {
			return nil, fmt.Errorf("failed to parse work items response: %w", err)
		}
		all = append(all, batchResp.Value...)
	}
	return all, nil
}

// GetWorkItem retrieves a single work item with its relations.
func (c *Client) GetWorkItem(ctx context.Context, id int) (*WorkItem, error) {
	q := url.Values{}
	q.Set("$expand", "relations")
	respBody, err := c.do(ctx, request{op: "get work item", method: http.MethodGet,
		url: c.projectURL(fmt.Sprintf("wit/workitems/%d", id), APIVersion, q)})
	if err != nil {
		return nil, err
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse work item: %w", err)
	}
	return &workItem, nil
}

// CreateWorkItem creates a new work item of the given type.
func (c *Client) CreateWorkItem(ctx context.Context, workItemType string, ops []PatchOperation) (*WorkItem, error) {
	// Work item type must be URL encoded
	u := c.projectURL("wit/workitems/$"+url.PathEscape(workItemType), APIVersion, nil)
	r, err := jsonRequest("create work item", http.MethodPost, u, ops, "application/json-patch+json")
	if err != nil {
		return nil, err
	}
	respBody, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	return &workItem, nil
}

// UpdateWorkItem applies patch operations to an existing work item.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, ops []PatchOperation) (*WorkItem, error) {
	u := c.projectURL(fmt.Sprintf("wit/workitems/%d", id), APIVersion, nil)
	r, err := jsonRequest("update work item", http.MethodPatch, u, ops, "application/json-patch+json")
	if err != nil {
		return nil, err
	}
	respBody, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &workItem, nil
}

// ListComments returns every comment on a work item, following
// continuation tokens.
func (c *Client) ListComments(ctx context.Context, id int) ([]Comment, error) {
	var (
		all   []Comment
		token string
	)
	for {
		q := url.Values{}
		q.Set("$top", strconv.Itoa(MaxPageSize))
		q.Set("order", "asc")
		if token != "" {
			q.Set("continuationToken", token)
		}
		respBody, err := c.do(ctx, request{op: "list comments", method: http.MethodGet,
			url: c.projectURL(fmt.Sprintf("wit/workItems/%d/comments", id), CommentsVersion, q)})
		if err != nil {
			return nil, err
		}

		var page CommentList
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("failed to parse comments response: %w", err)
		}
		all = append(all, page.Comments...)
		if page.ContinuationToken == "" || len(page.Comments) == 0 {
			return all, nil
		}
		token = page.ContinuationToken
	}
}

// AddComment appends a comment to a work item.
func (c *Client) AddComment(ctx context.Context, id int, text string) (*Comment, error) {
	u := c.projectURL(fmt.Sprintf("wit/workItems/%d/comments", id), CommentsVersion, nil)
	r, err := jsonRequest("add comment", http.MethodPost, u, CommentCreate{Text: text}, "")
	if err != nil {
		return nil, err
	}
	respBody, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}
	return &comment, nil
}

// UploadAttachment stores content and returns a reference that can be
// linked to work items.
func (c *Client) UploadAttachment(ctx context.Context, fileName string, content []byte) (*AttachmentReference, error) {
	q := url.Values{}
	q.Set("fileName", fileName)
	respBody, err := c.do(ctx, request{
		op:          "upload attachment",
		method:      http.MethodPost,
		url:         c.projectURL("wit/attachments", APIVersion, q),
		body:        content,
		contentType: "application/octet-stream",
	})
	if err != nil {
		return nil, err
	}

	var ref AttachmentReference
	if err := json.Unmarshal(respBody, &ref); err != nil {
		return nil, fmt.Errorf("failed to parse attachment response: %w", err)
	}
	return &ref, nil
}

// LookupIdentity searches the identity directory by mail address.
func (c *Client) LookupIdentity(ctx context.Context, email string) ([]IdentityRecord, error) {
	q := url.Values{}
	q.Set("searchFilter", "General")
	q.Set("filterValue", email)
	q.Set("queryMembership", "None")
	respBody, err := c.do(ctx, request{op: "lookup identity", method: http.MethodGet,
		url: c.buildURL(c.IdentityURL+"/_apis/identities", APIVersion, q)})
	if err != nil {
		return nil, err
	}

	var resp IdentityQueryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse identity response: %w", err)
	}
	return resp.Value, nil
}

// BuildWorkItemURL returns the web URL for a work item.
func (c *Client) BuildWorkItemURL(id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, url.PathEscape(c.Project), id)
}

// ParseWorkItemID extracts the work item ID from a URL.
func ParseWorkItemID(u string) (int, bool) {
	// URL format: https://dev.azure.com/org/project/_workitems/edit/123
	idx := strings.LastIndex(u, "/")
	if idx == -1 {
		return 0, false
	}
	id, err := strconv.Atoi(u[idx+1:])
	if err != nil {
		return 0, false
	}
	return id, true
}
