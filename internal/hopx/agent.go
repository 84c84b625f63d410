package hopx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

func (s *Sandbox) agent(ctx context.Context, method, path string, in, out any) error {
	return s.client.do(ctx, method, s.agentURL+path, in, out)
}

// ListFiles lists one directory, non-recursively.
func (s *Sandbox) ListFiles(ctx context.Context, path string) ([]Record, error) {
	var resp struct {
		Files []Record `json:"files"`
	}
	if err := s.agent(ctx, http.MethodGet, "/files/list?path="+url.QueryEscape(path), nil, &resp); err != nil {
		return nil, fmt.Errorf("list files %s: %w", path, err)
	}
	return resp.Files, nil
}

func (s *Sandbox) ReadFile(ctx context.Context, path string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := s.agent(ctx, http.MethodGet, "/files/read?path="+url.QueryEscape(path), nil, &resp); err != nil {
		return "", fmt.Errorf("read file %s: %w", path, err)
	}
	return resp.Content, nil
}

type RunOptions struct {
	// Timeout in seconds; zero leaves it to the agent.
	Timeout    int
	WorkingDir string
	Env        map[string]string
}

type commandRequest struct {
	Command    string            `json:"command"`
	Timeout    int               `json:"timeout,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// RunCommand runs a command to completion and returns the agent's result.
func (s *Sandbox) RunCommand(ctx context.Context, command string, opts RunOptions) (Record, error) {
	var rec Record
	req := commandRequest{Command: command, Timeout: opts.Timeout, WorkingDir: opts.WorkingDir, Env: opts.Env}
	if err := s.agent(ctx, http.MethodPost, "/commands/run", req, &rec); err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	return rec, nil
}

// RunBackground starts a command and returns as soon as the agent accepts it.
func (s *Sandbox) RunBackground(ctx context.Context, command string, opts RunOptions) (Record, error) {
	var rec Record
	req := commandRequest{Command: command, Timeout: opts.Timeout, WorkingDir: opts.WorkingDir, Env: opts.Env}
	if err := s.agent(ctx, http.MethodPost, "/commands/background", req, &rec); err != nil {
		return nil, fmt.Errorf("run background command: %w", err)
	}
	return rec, nil
}

func (s *Sandbox) ListProcesses(ctx context.Context) ([]Record, error) {
	var resp struct {
		Processes []Record `json:"processes"`
	}
	if err := s.agent(ctx, http.MethodGet, "/processes", nil, &resp); err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return resp.Processes, nil
}

type envPayload struct {
	EnvVars map[string]string `json:"env_vars"`
}

func (s *Sandbox) GetEnv(ctx context.Context) (map[string]string, error) {
	var resp envPayload
	if err := s.agent(ctx, http.MethodGet, "/env", nil, &resp); err != nil {
		return nil, fmt.Errorf("get env: %w", err)
	}
	return orEmpty(resp.EnvVars), nil
}

// SetEnv merges vars into the sandbox environment and returns the result.
func (s *Sandbox) SetEnv(ctx context.Context, vars map[string]string) (map[string]string, error) {
	var resp envPayload
	if err := s.agent(ctx, http.MethodPut, "/env", envPayload{EnvVars: vars}, &resp); err != nil {
		return nil, fmt.Errorf("set env: %w", err)
	}
	return orEmpty(resp.EnvVars), nil
}

func (s *Sandbox) DeleteEnv(ctx context.Context, key string) error {
	if err := s.agent(ctx, http.MethodDelete, "/env/"+url.PathEscape(key), nil, nil); err != nil {
		return fmt.Errorf("delete env %s: %w", key, err)
	}
	return nil
}

func (s *Sandbox) AgentMetrics(ctx context.Context) (Record, error) {
	var rec Record
	if err := s.agent(ctx, http.MethodGet, "/metrics/snapshot", nil, &rec); err != nil {
		return nil, fmt.Errorf("agent metrics: %w", err)
	}
	return rec, nil
}

func (s *Sandbox) VNCInfo(ctx context.Context) (Record, error) {
	var rec Record
	if err := s.agent(ctx, http.MethodGet, "/desktop/vnc/status", nil, &rec); err != nil {
		return nil, fmt.Errorf("vnc status: %w", err)
	}
	return rec, nil
}

func (s *Sandbox) StartVNC(ctx context.Context) (Record, error) {
	var rec Record
	if err := s.agent(ctx, http.MethodPost, "/desktop/vnc/start", nil, &rec); err != nil {
		return nil, fmt.Errorf("start vnc: %w", err)
	}
	return rec, nil
}

func (s *Sandbox) StopVNC(ctx context.Context) error {
	if err := s.agent(ctx, http.MethodPost, "/desktop/vnc/stop", nil, nil); err != nil {
		return fmt.Errorf("stop vnc: %w", err)
	}
	return nil
}

// VNCURL resolves the browser URL of the VNC desktop. The status payload's
// url wins; otherwise the port is mapped onto the sandbox public host.
func (s *Sandbox) VNCURL(ctx context.Context) (string, error) {
	info, err := s.VNCInfo(ctx)
	if err != nil {
		return "", err
	}
	if u := firstString(info, "url", "vnc_url"); u != "" {
		return u, nil
	}

	host := firstString(s.record, "public_host", "publicHost", "host")
	port := 0
	for _, k := range []string{"port", "vnc_port", "websockify_port"} {
		if f, ok := info[k].(float64); ok && f > 0 {
			port = int(f)
			break
		}
	}
	if host == "" || port == 0 {
		return "", ErrNoVNC
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return fmt.Sprintf("https://%d-%s", port, host), nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
