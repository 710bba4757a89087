package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crmsync/backend"
)

const (
	// HubSpot API base URL
	APIBaseURL = "https://api.hubapi.com"

	// DefaultPageSize is the largest page the CRM v3 list endpoints return
	DefaultPageSize = 100

	objectsPath = "/crm/v3/objects"
)

// Client talks to the HubSpot CRM v3 API with a private app token.
type Client struct {
	baseURL    string
	apiToken   string
	pageSize   int
	httpClient *http.Client
	pipelines  *PipelineCache
}

// Option configures a Client or DemoClient.
type Option func(*options)

type options struct {
	baseURL     string
	pageSize    int
	timeout     time.Duration
	httpClient  *http.Client
	pipelines   *PipelineCache
	writeDelay  time.Duration
	fetchDelay  time.Duration
	withFixture bool
}

// WithBaseURL points the client at another host (tests use httptest).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithPageSize sets the list page size (1-100).
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 && n <= DefaultPageSize {
			o.pageSize = n
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithPipelineCache shares a pipeline label cache with the client.
func WithPipelineCache(pc *PipelineCache) Option {
	return func(o *options) { o.pipelines = pc }
}

func buildOptions(opts []Option) *options {
	o := &options{
		baseURL:     APIBaseURL,
		pageSize:    DefaultPageSize,
		timeout:     30 * time.Second,
		writeDelay:  DemoWriteLatency,
		fetchDelay:  DemoFetchLatency,
		withFixture: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pipelines == nil {
		o.pipelines = NewPipelineCache()
	}
	return o
}

// New creates a client for the HubSpot API.
func New(apiToken string, opts ...Option) *Client {
	o := buildOptions(opts)
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}
	return &Client{
		baseURL:    o.baseURL,
		apiToken:   apiToken,
		pageSize:   o.pageSize,
		httpClient: hc,
		pipelines:  o.pipelines,
	}
}

// NewRemote returns the live client when a token is configured and the demo
// client otherwise.
func NewRemote(apiToken string, opts ...Option) backend.RemoteClient {
	if apiToken == "" {
		return NewDemoClient(opts...)
	}
	return New(apiToken, opts...)
}

// Pipelines returns the label cache used by the client.
func (c *Client) Pipelines() *PipelineCache {
	return c.pipelines
}

// Object is a CRM object as returned by the v3 API.
type Object struct {
	ID           string                       `json:"id"`
	Properties   map[string]string            `json:"properties"`
	CreatedAt    time.Time                    `json:"createdAt"`
	UpdatedAt    time.Time                    `json:"updatedAt"`
	Archived     bool                         `json:"archived,omitempty"`
	Associations map[string]associationResult `json:"associations,omitempty"`
}

type associationResult struct {
	Results []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"results"`
}

type listResponse struct {
	Results []Object `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging,omitempty"`
}

func (r *listResponse) nextCursor() string {
	if r.Paging == nil || r.Paging.Next == nil {
		return ""
	}
	return r.Paging.Next.After
}

type propertiesRequest struct {
	Properties map[string]string `json:"properties"`
}

type apiErrorBody struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// doRequest performs an HTTP request with authentication
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// do runs a request and decodes a JSON response into out (when non-nil).
// Non-2xx responses become *backend.BackendError.
func (c *Client) do(ctx context.Context, operation, method, endpoint string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return backend.NewBackendError(operation, 0, err.Error()).WithError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(operation, resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backend.NewBackendError(operation, resp.StatusCode, "failed to decode response").WithError(err)
	}
	return nil
}

// checkResponse converts an unsuccessful response into a BackendError whose
// message is the HTTP status text, refined by HubSpot's own message.
func checkResponse(operation string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	message := http.StatusText(resp.StatusCode)
	var apiErr apiErrorBody
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		message = message + ": " + apiErr.Message
	}
	return backend.NewBackendError(operation, resp.StatusCode, message).WithBody(string(body))
}

// listObjects follows cursor pagination until no next cursor is returned,
// concatenating every page.
func (c *Client) listObjects(ctx context.Context, objectPath string, properties, associations []string) ([]Object, error) {
	operation := "list " + objectPath
	var all []Object
	after := ""

	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if after != "" {
			q.Set("after", after)
		}
		if len(properties) > 0 {
			q.Set("properties", strings.Join(properties, ","))
		}
		if len(associations) > 0 {
			q.Set("associations", strings.Join(associations, ","))
		}

		var page listResponse
		if err := c.do(ctx, operation, http.MethodGet, objectsPath+"/"+objectPath+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)

		after = page.nextCursor()
		if after == "" {
			return all, nil
		}
	}
}

func (c *Client) createObject(ctx context.Context, objectPath string, props map[string]string) (*Object, error) {
	var obj Object
	err := c.do(ctx, "create "+objectPath, http.MethodPost, objectsPath+"/"+objectPath, propertiesRequest{Properties: props}, &obj)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) updateObject(ctx context.Context, objectPath, id string, props map[string]string) (*Object, error) {
	var obj Object
	err := c.do(ctx, "update "+objectPath, http.MethodPatch, objectsPath+"/"+objectPath+"/"+url.PathEscape(id), propertiesRequest{Properties: props}, &obj)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) deleteObject(ctx context.Context, objectPath, id string) error {
	return c.do(ctx, "delete "+objectPath, http.MethodDelete, objectsPath+"/"+objectPath+"/"+url.PathEscape(id), nil, nil)
}
