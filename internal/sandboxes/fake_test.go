package sandboxes

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
)

type fakeTerminal struct {
	closed atomic.Bool
}

func (t *fakeTerminal) Read() ([]byte, error)   { return nil, errors.New("closed") }
func (t *fakeTerminal) WriteInput([]byte) error { return nil }
func (t *fakeTerminal) Resize(int, int) error   { return nil }
func (t *fakeTerminal) Close() error            { t.closed.Store(true); return nil }

type fakeHandle struct {
	id      string
	record  hopx.Record
	info    hopx.Record
	infoErr error
	vncURL  string

	mu      sync.Mutex
	env     map[string]string
	calls   []string
	runOpts hopx.RunOptions
	killed  bool
}

func newFakeHandle(id string, record hopx.Record) *fakeHandle {
	r := hopx.Record{"sandbox_id": id}
	maps.Copy(r, record)
	return &fakeHandle{id: id, record: r, info: r, env: map[string]string{}}
}

func (h *fakeHandle) track(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *fakeHandle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHandle) ID() string          { return h.id }
func (h *fakeHandle) Record() hopx.Record { return h.record }

func (h *fakeHandle) Info(context.Context) (hopx.Record, error) {
	h.track("info")
	if h.infoErr != nil {
		return nil, h.infoErr
	}
	return h.info, nil
}

func (h *fakeHandle) Resume(context.Context) error { h.track("resume"); return nil }
func (h *fakeHandle) Pause(context.Context) error  { h.track("pause"); return nil }

func (h *fakeHandle) Kill(context.Context) error {
	h.track("kill")
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) ListFiles(_ context.Context, path string) ([]hopx.Record, error) {
	h.track("list_files " + path)
	return []hopx.Record{
		{"name": "b.txt", "path": "/b.txt", "is_dir": false, "size": 10},
		{"name": "src", "path": "/src", "is_dir": true},
		{"name": "a.txt", "path": "/a.txt", "is_dir": false},
	}, nil
}

func (h *fakeHandle) ReadFile(_ context.Context, path string) (string, error) {
	h.track("read_file " + path)
	return "hello", nil
}

func (h *fakeHandle) RunCommand(_ context.Context, command string, opts hopx.RunOptions) (hopx.Record, error) {
	h.track("run " + command)
	h.mu.Lock()
	h.runOpts = opts
	h.mu.Unlock()
	return hopx.Record{"stdout": "ok\n", "exit_code": 0}, nil
}

func (h *fakeHandle) RunBackground(_ context.Context, command string, opts hopx.RunOptions) (hopx.Record, error) {
	h.track("background " + command)
	h.mu.Lock()
	h.runOpts = opts
	h.mu.Unlock()
	return hopx.Record{"process_id": "proc-1"}, nil
}

func (h *fakeHandle) ListProcesses(context.Context) ([]hopx.Record, error) {
	return []hopx.Record{{"process_id": "proc-1", "command": "npm start", "status": "running"}}, nil
}

func (h *fakeHandle) GetEnv(context.Context) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.env), nil
}

func (h *fakeHandle) SetEnv(_ context.Context, vars map[string]string) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	maps.Copy(h.env, vars)
	return maps.Clone(h.env), nil
}

func (h *fakeHandle) DeleteEnv(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.env, key)
	return nil
}

func (h *fakeHandle) AgentMetrics(context.Context) (hopx.Record, error) {
	return hopx.Record{"uptime_seconds": 12}, nil
}

func (h *fakeHandle) VNCInfo(context.Context) (hopx.Record, error) {
	return hopx.Record{"running": false}, nil
}

func (h *fakeHandle) StartVNC(context.Context) (hopx.Record, error) {
	return hopx.Record{"running": true}, nil
}

func (h *fakeHandle) StopVNC(context.Context) error { return nil }

func (h *fakeHandle) VNCURL(context.Context) (string, error) {
	if h.vncURL == "" {
		return "", hopx.ErrNoVNC
	}
	return h.vncURL, nil
}

func (h *fakeHandle) OpenTerminal(context.Context) (Terminal, error) {
	h.track("terminal")
	return &fakeTerminal{}, nil
}

type fakeClient struct {
	// pages maps a cursor to the page returned for it.
	pages      map[string]*Page
	handles    map[string]*fakeHandle
	connectErr error
	buildErrs  []error
	templates  []hopx.Record

	mu       sync.Mutex
	connects int
	builds   []hopx.BuildOptions
	created  []hopx.CreateSandboxRequest
}

func newFakeClient(handles ...*fakeHandle) *fakeClient {
	c := &fakeClient{handles: map[string]*fakeHandle{}}
	page := &Page{}
	for _, h := range handles {
		c.handles[h.id] = h
		page.Handles = append(page.Handles, h)
	}
	c.pages = map[string]*Page{"": page}
	return c
}

func (c *fakeClient) dial() (Client, error) { return c, nil }

func (c *fakeClient) ListTemplates(context.Context) ([]hopx.Record, error) {
	return c.templates, nil
}

func (c *fakeClient) DeleteTemplate(context.Context, string) error { return nil }

func (c *fakeClient) BuildTemplate(_ context.Context, _ *hopx.Template, opts hopx.BuildOptions) (*hopx.BuildResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builds = append(c.builds, opts)
	if len(c.buildErrs) > 0 {
		err := c.buildErrs[0]
		c.buildErrs = c.buildErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &hopx.BuildResult{TemplateID: "tpl-1", BuildID: "build-1", DurationMS: 1500}, nil
}

func (c *fakeClient) ListSandboxes(_ context.Context, opts hopx.ListOptions) (*Page, error) {
	page, ok := c.pages[opts.Cursor]
	if !ok {
		return &Page{}, nil
	}
	return page, nil
}

func (c *fakeClient) CreateSandbox(_ context.Context, req hopx.CreateSandboxRequest) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, req)
	h := newFakeHandle("sb-new", hopx.Record{"status": "running", "template_name": req.TemplateName})
	c.handles[h.id] = h
	return h, nil
}

func (c *fakeClient) Connect(_ context.Context, id string) (Handle, error) {
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	h, ok := c.handles[id]
	if !ok {
		return nil, &hopx.APIError{StatusCode: 404, Message: "not found"}
	}
	return h, nil
}

func (c *fakeClient) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}
