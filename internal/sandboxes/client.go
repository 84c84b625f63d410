package sandboxes

import (
	"context"
	"sync"

	"github.com/hyper-ai-inc/hopx-panel/internal/config"
	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
)

// Terminal is a live shell session on a sandbox.
type Terminal interface {
	Read() ([]byte, error)
	WriteInput(data []byte) error
	Resize(cols, rows int) error
	Close() error
}

// Handle is a connected sandbox.
type Handle interface {
	ID() string
	Record() hopx.Record
	Info(ctx context.Context) (hopx.Record, error)
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Kill(ctx context.Context) error

	ListFiles(ctx context.Context, path string) ([]hopx.Record, error)
	ReadFile(ctx context.Context, path string) (string, error)
	RunCommand(ctx context.Context, command string, opts hopx.RunOptions) (hopx.Record, error)
	RunBackground(ctx context.Context, command string, opts hopx.RunOptions) (hopx.Record, error)
	ListProcesses(ctx context.Context) ([]hopx.Record, error)

	GetEnv(ctx context.Context) (map[string]string, error)
	SetEnv(ctx context.Context, vars map[string]string) (map[string]string, error)
	DeleteEnv(ctx context.Context, key string) error

	AgentMetrics(ctx context.Context) (hopx.Record, error)

	VNCInfo(ctx context.Context) (hopx.Record, error)
	StartVNC(ctx context.Context) (hopx.Record, error)
	StopVNC(ctx context.Context) error
	VNCURL(ctx context.Context) (string, error)

	OpenTerminal(ctx context.Context) (Terminal, error)
}

type Page struct {
	Handles    []Handle
	NextCursor string
}

// Client is the account-level HopX surface.
type Client interface {
	ListTemplates(ctx context.Context) ([]hopx.Record, error)
	DeleteTemplate(ctx context.Context, id string) error
	BuildTemplate(ctx context.Context, t *hopx.Template, opts hopx.BuildOptions) (*hopx.BuildResult, error)

	ListSandboxes(ctx context.Context, opts hopx.ListOptions) (*Page, error)
	CreateSandbox(ctx context.Context, req hopx.CreateSandboxRequest) (Handle, error)
	Connect(ctx context.Context, id string) (Handle, error)
}

// Dial returns the Client to use for one operation.
type Dial func() (Client, error)

// HopX builds the HopX client on first successful use. Until credentials are
// available every call fails with the credential error.
func HopX(credentials func() (config.Credentials, error), opts ...hopx.Option) Dial {
	var (
		mu     sync.Mutex
		cached Client
		key    config.Credentials
	)
	return func() (Client, error) {
		creds, err := credentials()
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		if cached == nil || creds != key {
			options := append([]hopx.Option{hopx.WithBaseURL(creds.BaseURL)}, opts...)
			cached = NewHopXClient(hopx.NewClient(creds.APIKey, options...))
			key = creds
		}
		return cached, nil
	}
}

type hopxClient struct {
	c *hopx.Client
}

// NewHopXClient adapts a hopx.Client to Client.
func NewHopXClient(c *hopx.Client) Client {
	return hopxClient{c: c}
}

func (h hopxClient) ListTemplates(ctx context.Context) ([]hopx.Record, error) {
	return h.c.ListTemplates(ctx)
}

func (h hopxClient) DeleteTemplate(ctx context.Context, id string) error {
	return h.c.DeleteTemplate(ctx, id)
}

func (h hopxClient) BuildTemplate(ctx context.Context, t *hopx.Template, opts hopx.BuildOptions) (*hopx.BuildResult, error) {
	return h.c.BuildTemplate(ctx, t, opts)
}

func (h hopxClient) ListSandboxes(ctx context.Context, opts hopx.ListOptions) (*Page, error) {
	page, err := h.c.ListSandboxes(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := &Page{NextCursor: page.NextCursor}
	for _, s := range page.Sandboxes {
		out.Handles = append(out.Handles, hopxHandle{s})
	}
	return out, nil
}

func (h hopxClient) CreateSandbox(ctx context.Context, req hopx.CreateSandboxRequest) (Handle, error) {
	s, err := h.c.CreateSandbox(ctx, req)
	if err != nil {
		return nil, err
	}
	return hopxHandle{s}, nil
}

func (h hopxClient) Connect(ctx context.Context, id string) (Handle, error) {
	s, err := h.c.Connect(ctx, id)
	if err != nil {
		return nil, err
	}
	return hopxHandle{s}, nil
}

type hopxHandle struct {
	*hopx.Sandbox
}

func (h hopxHandle) OpenTerminal(ctx context.Context) (Terminal, error) {
	t, err := h.Sandbox.OpenTerminal(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}
