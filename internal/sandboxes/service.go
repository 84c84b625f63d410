// Package sandboxes is the request/response façade over HopX used by the
// HTTP API and the terminal relay. Every operation returns view records from
// package normalize and fails only with *Error.
package sandboxes

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hyper-ai-inc/hopx-panel/internal/forms"
	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
	"github.com/hyper-ai-inc/hopx-panel/internal/metrics"
	"github.com/hyper-ai-inc/hopx-panel/internal/normalize"
)

const (
	ListLimit          = 25
	DetailConcurrency  = 5
	DefaultTemplate    = "code-interpreter"
	DefaultCommandWait = 60
)

type Service struct {
	dial    Dial
	store   *Store
	logger  *log.Logger
	metrics *metrics.Metrics
}

// Option configures the Service
type Option func(*Service)

// WithStore injects the handle store; tests use one per run.
func WithStore(store *Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(dial Dial, opts ...Option) *Service {
	s := &Service{dial: dial}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

// call runs one operation, tagging failures with code.
func call[T any](s *Service, code string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	s.metrics.ObserveOperation(code, time.Since(start), err)
	if err != nil {
		e := wrap(code, err)
		if e.Kind == KindValidation {
			s.logger.Debug("rejected request", "code", code, "err", e.Message)
		} else {
			s.logger.Warn("hopx operation failed", "code", code, "kind", e.Kind, "err", e.Message)
		}
		var zero T
		return zero, e
	}
	return v, nil
}

func do(s *Service, code string, fn func() error) error {
	_, err := call(s, code, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// handle resolves id through the store, connecting on first use.
func (s *Service) handle(ctx context.Context, id string) (Handle, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("Sandbox id is required.")
	}
	return s.store.GetOrConnect(ctx, id, func(ctx context.Context) (Handle, error) {
		c, err := s.dial()
		if err != nil {
			return nil, err
		}
		return c.Connect(ctx, id)
	})
}

// findSandbox walks the account listing for id.
func (s *Service) findSandbox(ctx context.Context, id string) (Handle, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("Sandbox id is required.")
	}
	c, err := s.dial()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		page, err := c.ListSandboxes(ctx, hopx.ListOptions{Limit: ListLimit, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, h := range page.Handles {
			if h.ID() == id {
				return h, nil
			}
		}
		if page.NextCursor == "" || seen[page.NextCursor] {
			return nil, notFound(id)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

func (s *Service) ListTemplates(ctx context.Context) ([]normalize.Template, error) {
	return call(s, CodeListTemplates, func() ([]normalize.Template, error) {
		c, err := s.dial()
		if err != nil {
			return nil, err
		}
		records, err := c.ListTemplates(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]normalize.Template, 0, len(records))
		for _, r := range records {
			out = append(out, normalize.MapTemplate(r))
		}
		return out, nil
	})
}

// ListSandboxes returns the newest sandboxes first. Details are fetched with
// bounded concurrency; a sandbox whose detail call fails is reported from its
// listing record instead.
func (s *Service) ListSandboxes(ctx context.Context) ([]normalize.Sandbox, error) {
	return call(s, CodeListSandboxes, func() ([]normalize.Sandbox, error) {
		c, err := s.dial()
		if err != nil {
			return nil, err
		}
		page, err := c.ListSandboxes(ctx, hopx.ListOptions{Limit: ListLimit})
		if err != nil {
			return nil, err
		}
		for _, h := range page.Handles {
			s.store.Put(h)
		}

		views := mapConcurrent(ctx, page.Handles, DetailConcurrency, func(ctx context.Context, h Handle) normalize.Sandbox {
			info, err := h.Info(ctx)
			if err != nil {
				s.logger.Debug("sandbox detail unavailable", "sandbox", h.ID(), "err", err)
				return normalize.MapSandbox(h.Record())
			}
			return normalize.MapSandbox(info)
		})
		SortNewestFirst(views)
		return views, nil
	})
}

// SortNewestFirst orders by createdAt descending. Missing or unparseable
// timestamps sort last.
func SortNewestFirst(views []normalize.Sandbox) {
	slices.SortStableFunc(views, func(a, b normalize.Sandbox) int {
		ta, tb := createdMillis(a), createdMillis(b)
		switch {
		case ta > tb:
			return -1
		case ta < tb:
			return 1
		}
		return 0
	})
}

func createdMillis(v normalize.Sandbox) int64 {
	if v.CreatedAt == nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, *v.CreatedAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func (s *Service) GetSandbox(ctx context.Context, id string) (normalize.Sandbox, error) {
	return call(s, CodeGetSandboxInfo, func() (normalize.Sandbox, error) {
		h, err := s.findSandbox(ctx, id)
		if err != nil {
			return normalize.Sandbox{}, err
		}
		info, err := h.Info(ctx)
		if err != nil {
			return normalize.Sandbox{}, err
		}
		return normalize.MapSandbox(info), nil
	})
}

type CreateSandboxInput struct {
	TemplateName   string
	Region         string
	TimeoutSeconds *int
	InternetAccess *bool
	EnvVars        map[string]string
}

func (s *Service) CreateSandbox(ctx context.Context, in CreateSandboxInput) (normalize.Sandbox, error) {
	return call(s, CodeCreateSandbox, func() (normalize.Sandbox, error) {
		name := strings.TrimSpace(in.TemplateName)
		if name == "" {
			return normalize.Sandbox{}, invalid("Template name is required.")
		}
		if in.TimeoutSeconds != nil && *in.TimeoutSeconds <= 0 {
			return normalize.Sandbox{}, invalid("Timeout must be a positive integer number of seconds.")
		}
		for key := range in.EnvVars {
			if !forms.ValidEnvKey(key) {
				return normalize.Sandbox{}, invalid("Invalid env var key %q.", key)
			}
		}

		c, err := s.dial()
		if err != nil {
			return normalize.Sandbox{}, err
		}
		h, err := c.CreateSandbox(ctx, hopx.CreateSandboxRequest{
			TemplateName:   name,
			Region:         strings.TrimSpace(in.Region),
			TimeoutSeconds: in.TimeoutSeconds,
			InternetAccess: in.InternetAccess,
			EnvVars:        in.EnvVars,
		})
		if err != nil {
			return normalize.Sandbox{}, err
		}
		s.store.Put(h)
		s.logger.Info("sandbox created", "sandbox", h.ID(), "template", name)

		info, err := h.Info(ctx)
		if err != nil {
			return normalize.Sandbox{}, err
		}
		return normalize.MapSandbox(info), nil
	})
}

func (s *Service) StartSandbox(ctx context.Context, id string) error {
	return do(s, CodeStartSandbox, func() error {
		h, err := s.handle(ctx, id)
		if err != nil {
			return err
		}
		return h.Resume(ctx)
	})
}

func (s *Service) StopSandbox(ctx context.Context, id string) error {
	return do(s, CodeStopSandbox, func() error {
		h, err := s.handle(ctx, id)
		if err != nil {
			return err
		}
		return h.Pause(ctx)
	})
}

// DeleteSandbox kills the sandbox and evicts its handle.
func (s *Service) DeleteSandbox(ctx context.Context, id string) error {
	return do(s, CodeDeleteSandbox, func() error {
		h, err := s.findSandbox(ctx, id)
		if err != nil {
			return err
		}
		if err := h.Kill(ctx); err != nil {
			return err
		}
		s.store.Evict(id)
		s.logger.Info("sandbox deleted", "sandbox", id)
		return nil
	})
}

// ListFiles lists one directory, directories first.
func (s *Service) ListFiles(ctx context.Context, id, path string) ([]normalize.FileItem, error) {
	return call(s, CodeListFiles, func() ([]normalize.FileItem, error) {
		if strings.TrimSpace(path) == "" {
			path = "/"
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		records, err := h.ListFiles(ctx, path)
		if err != nil {
			return nil, err
		}
		items := make([]normalize.FileItem, 0, len(records))
		for _, r := range records {
			items = append(items, normalize.MapFile(r))
		}
		return normalize.SortFileTreeItems(items), nil
	})
}

func (s *Service) ReadFile(ctx context.Context, id, path string) (string, error) {
	return call(s, CodeReadFile, func() (string, error) {
		if path == "" {
			return "", invalid("Missing path query parameter")
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return "", err
		}
		content, err := h.ReadFile(ctx, path)
		if err != nil {
			return "", err
		}
		size := float64(len(content))
		s.logger.Debug("file read", "sandbox", id, "path", path, "size", normalize.FormatFileSize(&size))
		return content, nil
	})
}

// RunCommand runs command in the foreground. A zero timeout means 60s.
func (s *Service) RunCommand(ctx context.Context, id, command string, timeoutSeconds int) (hopx.Record, error) {
	return call(s, CodeRunCommand, func() (hopx.Record, error) {
		if strings.TrimSpace(command) == "" {
			return nil, invalid("command is required")
		}
		if timeoutSeconds < 0 {
			return nil, invalid("timeout must be a positive integer number of seconds")
		}
		if timeoutSeconds == 0 {
			timeoutSeconds = DefaultCommandWait
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		return h.RunCommand(ctx, command, hopx.RunOptions{Timeout: timeoutSeconds})
	})
}

type BackgroundCommand struct {
	ProcessID string `json:"processId"`
}

// StartBackgroundCommand starts command and returns without waiting for it.
func (s *Service) StartBackgroundCommand(ctx context.Context, id, command, workingDir string) (BackgroundCommand, error) {
	return call(s, CodeStartCommand, func() (BackgroundCommand, error) {
		command = strings.TrimSpace(command)
		if command == "" {
			return BackgroundCommand{}, invalid("command is required")
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return BackgroundCommand{}, err
		}
		rec, err := h.RunBackground(ctx, command, hopx.RunOptions{WorkingDir: forms.ResolveWorkingDir(workingDir)})
		if err != nil {
			return BackgroundCommand{}, err
		}
		return BackgroundCommand{ProcessID: normalize.String(rec, "process_id", "processId")}, nil
	})
}

func (s *Service) ListProcesses(ctx context.Context, id string) ([]normalize.Process, error) {
	return call(s, CodeListProcesses, func() ([]normalize.Process, error) {
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		records, err := h.ListProcesses(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]normalize.Process, 0, len(records))
		for _, r := range records {
			out = append(out, normalize.MapProcess(r))
		}
		return out, nil
	})
}

func (s *Service) GetEnv(ctx context.Context, id string) (map[string]string, error) {
	return call(s, CodeGetEnv, func() (map[string]string, error) {
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		return h.GetEnv(ctx)
	})
}

// SetEnv sets one variable. An empty value is allowed.
func (s *Service) SetEnv(ctx context.Context, id, key, value string) (map[string]string, error) {
	return call(s, CodeSetEnv, func() (map[string]string, error) {
		if key == "" {
			return nil, invalid("key and value are required")
		}
		if !forms.ValidEnvKey(key) {
			return nil, invalid("Invalid env var key %q.", key)
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		return h.SetEnv(ctx, map[string]string{key: value})
	})
}

// SetEnvLines sets every KEY=VALUE line of text in one call.
func (s *Service) SetEnvLines(ctx context.Context, id, text string) (map[string]string, error) {
	return call(s, CodeSetEnv, func() (map[string]string, error) {
		vars, err := forms.ParseEnvLines(text)
		if err != nil {
			return nil, invalid("%s", err.Error())
		}
		if len(vars) == 0 {
			return nil, invalid("No environment variables to set.")
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		return h.SetEnv(ctx, vars)
	})
}

func (s *Service) DeleteEnv(ctx context.Context, id, key string) error {
	return do(s, CodeDeleteEnv, func() error {
		if key == "" {
			return invalid("key is required")
		}
		h, err := s.handle(ctx, id)
		if err != nil {
			return err
		}
		return h.DeleteEnv(ctx, key)
	})
}

func (s *Service) GetMetrics(ctx context.Context, id string) (normalize.Metrics, error) {
	return call(s, CodeGetMetrics, func() (normalize.Metrics, error) {
		h, err := s.handle(ctx, id)
		if err != nil {
			return normalize.Metrics{}, err
		}
		rec, err := h.AgentMetrics(ctx)
		if err != nil {
			return normalize.Metrics{}, err
		}
		return normalize.MapMetrics(rec), nil
	})
}

// VNC is the desktop state with a best-effort browser URL.
type VNC struct {
	Info hopx.Record `json:"info"`
	URL  *string     `json:"url"`
}

func (s *Service) VNCStatus(ctx context.Context, id string) (VNC, error) {
	return call(s, CodeVNCStatus, func() (VNC, error) {
		h, err := s.handle(ctx, id)
		if err != nil {
			return VNC{}, err
		}
		info, err := h.VNCInfo(ctx)
		if err != nil {
			return VNC{}, err
		}
		return VNC{Info: info, URL: s.vncURL(ctx, h)}, nil
	})
}

func (s *Service) StartVNC(ctx context.Context, id string) (VNC, error) {
	return call(s, CodeVNCStart, func() (VNC, error) {
		h, err := s.handle(ctx, id)
		if err != nil {
			return VNC{}, err
		}
		info, err := h.StartVNC(ctx)
		if err != nil {
			return VNC{}, err
		}
		return VNC{Info: info, URL: s.vncURL(ctx, h)}, nil
	})
}

func (s *Service) StopVNC(ctx context.Context, id string) error {
	return do(s, CodeVNCStop, func() error {
		h, err := s.handle(ctx, id)
		if err != nil {
			return err
		}
		return h.StopVNC(ctx)
	})
}

func (s *Service) vncURL(ctx context.Context, h Handle) *string {
	u, err := h.VNCURL(ctx)
	if err != nil || u == "" {
		s.logger.Debug("vnc url unavailable", "sandbox", h.ID(), "err", err)
		return nil
	}
	return &u
}

func (s *Service) DeleteTemplate(ctx context.Context, templateID string) error {
	return do(s, CodeDeleteTemplate, func() error {
		if strings.TrimSpace(templateID) == "" {
			return invalid("Template id is required.")
		}
		c, err := s.dial()
		if err != nil {
			return err
		}
		return c.DeleteTemplate(ctx, templateID)
	})
}

// OpenTerminal starts an interactive shell on the sandbox. The caller owns
// the returned Terminal and must close it.
func (s *Service) OpenTerminal(ctx context.Context, id string) (Terminal, error) {
	return call(s, CodeTerminalConnect, func() (Terminal, error) {
		h, err := s.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		return h.OpenTerminal(ctx)
	})
}
