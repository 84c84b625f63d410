package sandboxes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
)

func TestNodeTemplateDefaults(t *testing.T) {
	tpl, name, err := NodeTemplate(BuildTemplateInput{Name: " web ", StartCommand: "npm start"})
	require.NoError(t, err)
	assert.Equal(t, "web", name)
	assert.Equal(t, "node:22-bookworm", tpl.BaseImage())
	assert.Equal(t, []hopx.Step{{Type: "workdir", Args: []string{"/workspace"}}}, tpl.Steps())
	assert.Equal(t, "npm start", tpl.StartCmd())
	assert.Nil(t, tpl.ReadyCheck())
}

func TestNodeTemplateFull(t *testing.T) {
	port := 3000
	tpl, _, err := NodeTemplate(BuildTemplateInput{
		Name:           "web",
		NodeVersion:    "20",
		InstallCommand: "npm ci",
		WorkingDir:     "/app",
		StartCommand:   "node server.js",
		StartPort:      &port,
		EnvVars:        map[string]string{"NODE_ENV": "production"},
	})
	require.NoError(t, err)
	assert.Equal(t, "node:20-bookworm", tpl.BaseImage())
	require.Len(t, tpl.Steps(), 3)
	assert.Equal(t, "run", tpl.Steps()[1].Type)
	assert.Equal(t, "env", tpl.Steps()[2].Type)
	require.NotNil(t, tpl.ReadyCheck())
	assert.Equal(t, hopx.WaitForPort(3000), *tpl.ReadyCheck())

	tpl, _, err = NodeTemplate(BuildTemplateInput{Name: "web", BaseImage: "custom:1", StartCommand: "x"})
	require.NoError(t, err)
	assert.Equal(t, "custom:1", tpl.BaseImage())
}

func TestNodeTemplateValidation(t *testing.T) {
	badPort := 70000
	cases := []struct {
		in   BuildTemplateInput
		want string
	}{
		{BuildTemplateInput{StartCommand: "npm start"}, "Template name is required."},
		{BuildTemplateInput{Name: "web", StartCommand: "  "}, "Start command is required."},
		{BuildTemplateInput{Name: "web", StartCommand: "npm start", StartPort: &badPort}, "Start port must be an integer from 1 to 65535."},
	}
	for _, tc := range cases {
		_, _, err := NodeTemplate(tc.in)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, KindValidation, e.Kind)
		assert.Equal(t, tc.want, e.Message)
	}
}

func TestBuildTemplateRetriesMissingTemplateOnce(t *testing.T) {
	c := newFakeClient()
	c.buildErrs = []error{&hopx.APIError{
		StatusCode: 404,
		Body:       []byte(`{"error":"RESOURCE_NOT_FOUND","resource_type":"template"}`),
	}}
	svc := newTestService(c)

	out, err := svc.BuildTemplate(context.Background(), BuildTemplateInput{Name: "web", StartCommand: "npm start"})
	require.NoError(t, err)
	assert.Equal(t, BuildTemplateResult{TemplateID: "tpl-1", BuildID: "build-1", DurationSeconds: 1.5}, out)
	require.Len(t, c.builds, 2)
	assert.True(t, c.builds[0].Update)
	assert.False(t, c.builds[1].Update)
	assert.Equal(t, "web", c.builds[1].Name)
}

func TestBuildTemplateDoesNotRetryOtherFailures(t *testing.T) {
	c := newFakeClient()
	c.buildErrs = []error{hopx.ErrBuildFailed}
	svc := newTestService(c)

	_, err := svc.BuildTemplate(context.Background(), BuildTemplateInput{Name: "web", StartCommand: "npm start"})
	e := requireKind(t, err, CodeBuildTemplate, KindUpstream)
	assert.ErrorIs(t, e, hopx.ErrBuildFailed)
	assert.Len(t, c.builds, 1)
}

func TestBuildTemplateWithoutUpdateNeverRetries(t *testing.T) {
	c := newFakeClient()
	c.buildErrs = []error{
		&hopx.APIError{StatusCode: 404, Body: []byte(`{"error":"resource_not_found","resource_type":"template"}`)},
	}
	svc := newTestService(c)
	update := false

	_, err := svc.BuildTemplate(context.Background(), BuildTemplateInput{Name: "web", StartCommand: "npm start", Update: &update})
	require.Error(t, err)
	assert.Len(t, c.builds, 1)
}

func TestIsTemplateNotFound(t *testing.T) {
	assert.True(t, isTemplateNotFound(errors.New(`resource_not_found: {"resource_type":"template"}`)))
	assert.False(t, isTemplateNotFound(errors.New(`resource_not_found: {"resource_type":"sandbox"}`)))
	assert.False(t, isTemplateNotFound(errors.New("timeout")))
}
