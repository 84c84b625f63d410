package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/hyper-ai-inc/hopx-panel/internal/forms"
	"github.com/hyper-ai-inc/hopx-panel/internal/normalize"
	"github.com/hyper-ai-inc/hopx-panel/internal/sandboxes"
)

// intField accepts a JSON number or a numeric string, as HTML forms send
// either. null and blank strings leave it unset.
type intField struct {
	raw string
}

func (f *intField) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a number or numeric string, got %s", b)
	}
	f.raw = n.String()
	return nil
}

func sandboxID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// sandboxEntry adds the badge variant the dashboard renders.
type sandboxEntry struct {
	normalize.Sandbox
	StatusVariant string `json:"statusVariant"`
}

func entry(v normalize.Sandbox) sandboxEntry {
	return sandboxEntry{Sandbox: v, StatusVariant: normalize.StatusVariant(v.Status)}
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.sandboxes.ListTemplates(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

type buildTemplateRequest struct {
	Name           string            `json:"name" validate:"max=128"`
	NodeVersion    string            `json:"nodeVersion" validate:"max=32"`
	BaseImage      string            `json:"baseImage" validate:"max=256"`
	InstallCommand string            `json:"installCommand" validate:"max=4096"`
	WorkingDir     string            `json:"workingDir" validate:"max=1024"`
	StartCommand   string            `json:"startCommand" validate:"max=4096"`
	StartPort      intField          `json:"startPort"`
	EnvVars        map[string]string `json:"envVars"`
	// EnvText is the KEY=VALUE form of EnvVars; both may be given.
	EnvText string `json:"envText"`
	Update  *bool  `json:"update"`
}

func (s *Server) handleBuildTemplate(w http.ResponseWriter, r *http.Request) {
	var req buildTemplateRequest
	if !s.decode(w, r, &req) {
		return
	}

	in := sandboxes.BuildTemplateInput{
		Name:           req.Name,
		NodeVersion:    req.NodeVersion,
		BaseImage:      req.BaseImage,
		InstallCommand: req.InstallCommand,
		WorkingDir:     req.WorkingDir,
		StartCommand:   req.StartCommand,
		EnvVars:        req.EnvVars,
		Update:         req.Update,
	}
	port, ok, err := forms.ParseOptionalPort(req.StartPort.raw)
	if err != nil {
		badRequest(w, "Start port must be an integer from 1 to 65535.")
		return
	}
	if ok {
		in.StartPort = &port
	}
	if strings.TrimSpace(req.EnvText) != "" {
		vars, err := forms.ParseEnvLines(req.EnvText)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if in.EnvVars == nil {
			in.EnvVars = map[string]string{}
		}
		for k, v := range vars {
			in.EnvVars[k] = v
		}
	}

	result, err := s.sandboxes.BuildTemplate(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.sandboxes.DeleteTemplate(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	views, err := s.sandboxes.ListSandboxes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries := make([]sandboxEntry, 0, len(views))
	for _, v := range views {
		entries = append(entries, entry(v))
	}
	writeJSON(w, http.StatusOK, entries)
}

type createSandboxRequest struct {
	Template       string            `json:"template" validate:"max=128"`
	TemplateName   string            `json:"templateName" validate:"max=128"`
	Region         string            `json:"region" validate:"max=64"`
	TimeoutSeconds intField          `json:"timeoutSeconds"`
	InternetAccess *bool             `json:"internetAccess"`
	EnvVars        map[string]string `json:"envVars"`
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req createSandboxRequest
	if !s.decode(w, r, &req) {
		return
	}

	in := sandboxes.CreateSandboxInput{
		TemplateName:   req.Template,
		Region:         req.Region,
		InternetAccess: req.InternetAccess,
		EnvVars:        req.EnvVars,
	}
	if strings.TrimSpace(in.TemplateName) == "" {
		in.TemplateName = req.TemplateName
	}
	if strings.TrimSpace(in.TemplateName) == "" {
		in.TemplateName = sandboxes.DefaultTemplate
	}
	timeout, ok, err := forms.ParseTimeoutSeconds(req.TimeoutSeconds.raw)
	if err != nil {
		badRequest(w, "Timeout must be a positive integer number of seconds.")
		return
	}
	if ok {
		in.TimeoutSeconds = &timeout
	}

	view, err := s.sandboxes.CreateSandbox(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry(view))
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	view, err := s.sandboxes.GetSandbox(r.Context(), sandboxID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry(view))
}

func (s *Server) handleDeleteSandbox(w http.ResponseWriter, r *http.Request) {
	if err := s.sandboxes.DeleteSandbox(r.Context(), sandboxID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleStartSandbox(w http.ResponseWriter, r *http.Request) {
	if err := s.sandboxes.StartSandbox(r.Context(), sandboxID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleStopSandbox(w http.ResponseWriter, r *http.Request) {
	if err := s.sandboxes.StopSandbox(r.Context(), sandboxID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.sandboxes.ListFiles(r.Context(), sandboxID(r), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	content, err := s.sandboxes.ReadFile(r.Context(), sandboxID(r), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path, "content": content})
}

type runCommandRequest struct {
	Command string   `json:"command" validate:"required,max=16384"`
	Timeout intField `json:"timeout"`
}

func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	var req runCommandRequest
	if !s.decode(w, r, &req) {
		return
	}
	timeout, _, err := forms.ParseTimeoutSeconds(req.Timeout.raw)
	if err != nil {
		badRequest(w, "timeout must be a positive integer number of seconds")
		return
	}

	result, err := s.sandboxes.RunCommand(r.Context(), sandboxID(r), req.Command, timeout)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type startCommandRequest struct {
	Command    string `json:"command" validate:"required,max=16384"`
	WorkingDir string `json:"workingDir" validate:"max=1024"`
}

func (s *Server) handleStartCommand(w http.ResponseWriter, r *http.Request) {
	var req startCommandRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.sandboxes.StartBackgroundCommand(r.Context(), sandboxID(r), req.Command, req.WorkingDir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := s.sandboxes.ListProcesses(r.Context(), sandboxID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processes)
}

func (s *Server) handleGetEnv(w http.ResponseWriter, r *http.Request) {
	env, err := s.sandboxes.GetEnv(r.Context(), sandboxID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type setEnvRequest struct {
	Key   string  `json:"key" validate:"max=256"`
	Value *string `json:"value"`
}

func (s *Server) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	var req setEnvRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Key == "" || req.Value == nil {
		badRequest(w, "key and value are required")
		return
	}
	env, err := s.sandboxes.SetEnv(r.Context(), sandboxID(r), req.Key, *req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type setEnvBulkRequest struct {
	Text string `json:"text" validate:"required,max=65536"`
}

func (s *Server) handleSetEnvBulk(w http.ResponseWriter, r *http.Request) {
	var req setEnvBulkRequest
	if !s.decode(w, r, &req) {
		return
	}
	env, err := s.sandboxes.SetEnvLines(r.Context(), sandboxID(r), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleDeleteEnv(w http.ResponseWriter, r *http.Request) {
	if err := s.sandboxes.DeleteEnv(r.Context(), sandboxID(r), mux.Vars(r)["key"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.sandboxes.GetMetrics(r.Context(), sandboxID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleVNCStatus(w http.ResponseWriter, r *http.Request) {
	vnc, err := s.sandboxes.VNCStatus(r.Context(), sandboxID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vnc)
}

func (s *Server) handleStartVNC(w http.ResponseWriter, r *http.Request) {
	vnc, err := s.sandboxes.StartVNC(r.Context(), sandboxID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vnc)
}

func (s *Server) handleStopVNC(w http.ResponseWriter, r *http.Request) {
	if err := s.sandboxes.StopVNC(r.Context(), sandboxID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}
