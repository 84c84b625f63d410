package hopx

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"time"
)

// Step is one build instruction of a template.
type Step struct {
	Type string            `json:"type"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

type ReadyCheck struct {
	Type string `json:"type"`
	Port int    `json:"port,omitempty"`
}

// WaitForPort marks the template ready once port accepts connections.
func WaitForPort(port int) ReadyCheck {
	return ReadyCheck{Type: "port", Port: port}
}

// Template describes an image build. Methods chain:
//
//	NewTemplate("node:22-bookworm").SetWorkdir("/workspace").RunCmd("npm ci").SetStartCmd("npm start", WaitForPort(3000))
type Template struct {
	baseImage  string
	steps      []Step
	startCmd   string
	readyCheck *ReadyCheck
}

func NewTemplate(baseImage string) *Template {
	return &Template{baseImage: baseImage}
}

func (t *Template) SetWorkdir(dir string) *Template {
	t.steps = append(t.steps, Step{Type: "workdir", Args: []string{dir}})
	return t
}

func (t *Template) RunCmd(cmd string) *Template {
	t.steps = append(t.steps, Step{Type: "run", Args: []string{cmd}})
	return t
}

func (t *Template) SetEnvs(env map[string]string) *Template {
	t.steps = append(t.steps, Step{Type: "env", Env: maps.Clone(env)})
	return t
}

// SetStartCmd sets the process started in every sandbox. The first ready
// check, if any, gates readiness.
func (t *Template) SetStartCmd(cmd string, ready ...ReadyCheck) *Template {
	t.startCmd = cmd
	t.readyCheck = nil
	if len(ready) > 0 {
		rc := ready[0]
		t.readyCheck = &rc
	}
	return t
}

func (t *Template) BaseImage() string       { return t.baseImage }
func (t *Template) Steps() []Step           { return t.steps }
func (t *Template) StartCmd() string        { return t.startCmd }
func (t *Template) ReadyCheck() *ReadyCheck { return t.readyCheck }

type BuildOptions struct {
	Name string
	// Update rebuilds an existing template of the same name.
	Update bool
}

type BuildResult struct {
	TemplateID string
	BuildID    string
	// Duration of the build in milliseconds as reported by HopX.
	DurationMS float64
}

type buildRequest struct {
	Name       string      `json:"name"`
	Update     bool        `json:"update"`
	BaseImage  string      `json:"base_image"`
	Steps      []Step      `json:"steps"`
	StartCmd   string      `json:"start_cmd,omitempty"`
	ReadyCheck *ReadyCheck `json:"ready_check,omitempty"`
}

type buildStatus struct {
	Status     string  `json:"status"`
	Error      string  `json:"error"`
	DurationMS float64 `json:"duration_ms"`
}

// BuildTemplate submits a build and waits for it to finish.
func (c *Client) BuildTemplate(ctx context.Context, t *Template, opts BuildOptions) (*BuildResult, error) {
	req := buildRequest{
		Name:       opts.Name,
		Update:     opts.Update,
		BaseImage:  t.baseImage,
		Steps:      t.steps,
		StartCmd:   t.startCmd,
		ReadyCheck: t.readyCheck,
	}

	var started struct {
		TemplateID string `json:"template_id"`
		BuildID    string `json:"build_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/templates/build", req, &started); err != nil {
		return nil, fmt.Errorf("build template %s: %w", opts.Name, err)
	}

	statusURL := c.baseURL + "/v1/templates/build/" + url.PathEscape(started.BuildID) + "/status"
	status, err := pollLoop(ctx, c.pollInterval, func() (bool, buildStatus, error) {
		var st buildStatus
		if err := c.do(ctx, http.MethodGet, statusURL, nil, &st); err != nil {
			return false, st, err
		}
		switch st.Status {
		case "ready", "success", "completed":
			return true, st, nil
		case "failed", "error":
			return false, st, fmt.Errorf("%w: %s", ErrBuildFailed, st.Error)
		}
		return false, st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("build template %s: %w", opts.Name, err)
	}

	return &BuildResult{
		TemplateID: started.TemplateID,
		BuildID:    started.BuildID,
		DurationMS: status.DurationMS,
	}, nil
}

// pollLoop calls fn until it reports done, fails, or ctx ends.
func pollLoop[T any](ctx context.Context, interval time.Duration, fn func() (bool, T, error)) (T, error) {
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		done, result, err := fn()
		if err != nil || done {
			return result, err
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) ListTemplates(ctx context.Context) ([]Record, error) {
	var resp struct {
		Data      []Record `json:"data"`
		Templates []Record `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/templates", nil, &resp); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if resp.Data != nil {
		return resp.Data, nil
	}
	return resp.Templates, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.baseURL+"/v1/templates/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	return nil
}
