package sandboxes

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyper-ai-inc/hopx-panel/internal/forms"
	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
	"github.com/hyper-ai-inc/hopx-panel/internal/normalize"
)

const DefaultNodeVersion = "22"

// BuildTemplateInput describes a Node.js template.
type BuildTemplateInput struct {
	Name           string
	NodeVersion    string
	BaseImage      string
	InstallCommand string
	WorkingDir     string
	StartCommand   string
	StartPort      *int
	EnvVars        map[string]string
	// Update defaults to true.
	Update *bool
}

type BuildTemplateResult struct {
	TemplateID      string  `json:"templateId"`
	BuildID         string  `json:"buildId"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// NodeTemplate validates in and returns the template to build with its name.
func NodeTemplate(in BuildTemplateInput) (*hopx.Template, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, "", invalid("Template name is required.")
	}
	startCmd := strings.TrimSpace(in.StartCommand)
	if startCmd == "" {
		return nil, "", invalid("Start command is required.")
	}
	if in.StartPort != nil && !forms.ValidPort(*in.StartPort) {
		return nil, "", invalid("Start port must be an integer from 1 to 65535.")
	}
	for key := range in.EnvVars {
		if !forms.ValidEnvKey(key) {
			return nil, "", invalid("Invalid env var key %q.", key)
		}
	}

	version := orTrimmed(in.NodeVersion, DefaultNodeVersion)
	base := orTrimmed(in.BaseImage, fmt.Sprintf("node:%s-bookworm", version))

	tpl := hopx.NewTemplate(base).SetWorkdir(forms.ResolveWorkingDir(in.WorkingDir))
	if install := strings.TrimSpace(in.InstallCommand); install != "" {
		tpl.RunCmd(install)
	}
	if len(in.EnvVars) > 0 {
		tpl.SetEnvs(in.EnvVars)
	}
	if in.StartPort != nil {
		tpl.SetStartCmd(startCmd, hopx.WaitForPort(*in.StartPort))
	} else {
		tpl.SetStartCmd(startCmd)
	}
	return tpl, name, nil
}

// BuildTemplate builds a Node.js template. When updating a template that
// HopX reports as missing, the build is retried once as a new template.
func (s *Service) BuildTemplate(ctx context.Context, in BuildTemplateInput) (BuildTemplateResult, error) {
	return call(s, CodeBuildTemplate, func() (BuildTemplateResult, error) {
		tpl, name, err := NodeTemplate(in)
		if err != nil {
			return BuildTemplateResult{}, err
		}
		c, err := s.dial()
		if err != nil {
			return BuildTemplateResult{}, err
		}

		update := in.Update == nil || *in.Update
		result, err := c.BuildTemplate(ctx, tpl, hopx.BuildOptions{Name: name, Update: update})
		if err != nil && update && isTemplateNotFound(err) {
			s.logger.Info("template not found for update, building new", "template", name)
			result, err = c.BuildTemplate(ctx, tpl, hopx.BuildOptions{Name: name, Update: false})
		}
		if err != nil {
			return BuildTemplateResult{}, err
		}

		out := BuildTemplateResult{
			TemplateID:      result.TemplateID,
			BuildID:         result.BuildID,
			DurationSeconds: result.DurationMS / 1000,
		}
		s.logger.Info("template built", "template", name, "id", out.TemplateID,
			"duration", normalize.FormatDuration(&out.DurationSeconds))
		return out, nil
	})
}

func isTemplateNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource_not_found") && strings.Contains(msg, `"resource_type":"template"`)
}

func orTrimmed(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
