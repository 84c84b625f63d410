package hopx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Sandbox is a handle to one remote sandbox. It carries the record it was
// built from and the agent endpoint derived from it.
type Sandbox struct {
	id       string
	client   *Client
	agentURL string
	record   Record
}

func (c *Client) newSandbox(id string, rec Record) *Sandbox {
	if rec == nil {
		rec = Record{}
	}
	if id == "" {
		id = firstString(rec, "sandbox_id", "sandboxId", "id")
	}
	return &Sandbox{
		id:       id,
		client:   c,
		agentURL: c.agentURL(id, rec),
		record:   rec,
	}
}

// agentURL prefers the public host the control plane advertises and falls
// back to the proxied agent route.
func (c *Client) agentURL(id string, rec Record) string {
	host := firstString(rec, "public_host", "publicHost", "host")
	switch {
	case host == "":
		return c.baseURL + "/v1/sandboxes/" + url.PathEscape(id) + "/agent"
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		return strings.TrimRight(host, "/")
	default:
		return "https://" + strings.TrimRight(host, "/")
	}
}

func (s *Sandbox) ID() string { return s.id }

// Record returns the payload the handle was created from.
func (s *Sandbox) Record() Record { return s.record }

type ListOptions struct {
	Limit  int
	Cursor string
}

type SandboxPage struct {
	Sandboxes  []*Sandbox
	NextCursor string
}

// ListSandboxes fetches one page of sandboxes.
func (c *Client) ListSandboxes(ctx context.Context, opts ListOptions) (*SandboxPage, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	u := c.baseURL + "/v1/sandboxes"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var resp struct {
		Data       []Record `json:"data"`
		Sandboxes  []Record `json:"sandboxes"`
		NextCursor string   `json:"next_cursor"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}

	records := resp.Data
	if records == nil {
		records = resp.Sandboxes
	}
	page := &SandboxPage{NextCursor: resp.NextCursor}
	for _, rec := range records {
		page.Sandboxes = append(page.Sandboxes, c.newSandbox("", rec))
	}
	return page, nil
}

type CreateSandboxRequest struct {
	TemplateName   string            `json:"template_name"`
	Region         string            `json:"region,omitempty"`
	TimeoutSeconds *int              `json:"timeout_seconds,omitempty"`
	InternetAccess *bool             `json:"internet_access,omitempty"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
}

func (c *Client) CreateSandbox(ctx context.Context, req CreateSandboxRequest) (*Sandbox, error) {
	var rec Record
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/sandboxes", req, &rec); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return c.newSandbox("", rec), nil
}

// Connect looks the sandbox up and returns a handle bound to its agent.
func (c *Client) Connect(ctx context.Context, id string) (*Sandbox, error) {
	rec, err := c.getSandbox(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}
	return c.newSandbox(id, rec), nil
}

func (c *Client) getSandbox(ctx context.Context, id string) (Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodGet, c.sandboxURL(id), nil, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) sandboxURL(id string) string {
	return c.baseURL + "/v1/sandboxes/" + url.PathEscape(id)
}

// Info fetches the current detail record.
func (s *Sandbox) Info(ctx context.Context) (Record, error) {
	rec, err := s.client.getSandbox(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("get sandbox %s: %w", s.id, err)
	}
	return rec, nil
}

func (s *Sandbox) Pause(ctx context.Context) error {
	if err := s.client.do(ctx, http.MethodPost, s.client.sandboxURL(s.id)+"/pause", nil, nil); err != nil {
		return fmt.Errorf("pause sandbox %s: %w", s.id, err)
	}
	return nil
}

func (s *Sandbox) Resume(ctx context.Context) error {
	if err := s.client.do(ctx, http.MethodPost, s.client.sandboxURL(s.id)+"/resume", nil, nil); err != nil {
		return fmt.Errorf("resume sandbox %s: %w", s.id, err)
	}
	return nil
}

func (s *Sandbox) Kill(ctx context.Context) error {
	if err := s.client.do(ctx, http.MethodDelete, s.client.sandboxURL(s.id), nil, nil); err != nil {
		return fmt.Errorf("kill sandbox %s: %w", s.id, err)
	}
	return nil
}

func firstString(rec Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
