package hopx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
)

func TestTemplateBuilder(t *testing.T) {
	tpl := NewTemplate("node:22-bookworm").
		SetWorkdir("/workspace").
		RunCmd("npm ci").
		SetEnvs(map[string]string{"NODE_ENV": "production"}).
		SetStartCmd("npm start", WaitForPort(3000))

	if tpl.BaseImage() != "node:22-bookworm" {
		t.Errorf("unexpected base image %q", tpl.BaseImage())
	}
	steps := tpl.Steps()
	if len(steps) != 3 || steps[0].Type != "workdir" || steps[1].Args[0] != "npm ci" || steps[2].Env["NODE_ENV"] != "production" {
		t.Errorf("unexpected steps: %+v", steps)
	}
	if tpl.StartCmd() != "npm start" || tpl.ReadyCheck() == nil || tpl.ReadyCheck().Port != 3000 {
		t.Errorf("unexpected start: %q %+v", tpl.StartCmd(), tpl.ReadyCheck())
	}

	tpl.SetStartCmd("node server.js")
	if tpl.ReadyCheck() != nil {
		t.Error("start command without a ready check must clear it")
	}
}

func TestBuildTemplatePollsUntilReady(t *testing.T) {
	var polls atomic.Int32
	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/templates/build", func(w http.ResponseWriter, req *http.Request) {
			var body buildRequest
			json.NewDecoder(req.Body).Decode(&body)
			if body.Name != "web" || !body.Update || body.BaseImage != "node:22-bookworm" || body.ReadyCheck == nil {
				t.Errorf("unexpected build request: %+v", body)
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"template_id": "tmpl_1", "build_id": "bld_1"})
		}).Methods(http.MethodPost)
		r.HandleFunc("/v1/templates/build/bld_1/status", func(w http.ResponseWriter, req *http.Request) {
			if polls.Add(1) < 3 {
				writeJSON(w, http.StatusOK, map[string]any{"status": "building"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "duration_ms": 4500})
		})
	})

	tpl := NewTemplate("node:22-bookworm").SetStartCmd("npm start", WaitForPort(8080))
	result, err := client.BuildTemplate(context.Background(), tpl, BuildOptions{Name: "web", Update: true})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if result.TemplateID != "tmpl_1" || result.BuildID != "bld_1" || result.DurationMS != 4500 {
		t.Errorf("unexpected result: %+v", result)
	}
	if polls.Load() != 3 {
		t.Errorf("expected 3 polls, got %d", polls.Load())
	}
}

func TestBuildTemplateFailure(t *testing.T) {
	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/templates/build", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusAccepted, map[string]any{"template_id": "tmpl_1", "build_id": "bld_1"})
		})
		r.HandleFunc("/v1/templates/build/bld_1/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "error": "npm ci exited 1"})
		})
	})

	_, err := client.BuildTemplate(context.Background(), NewTemplate("node:22"), BuildOptions{Name: "web"})
	if !errors.Is(err, ErrBuildFailed) || !strings.Contains(err.Error(), "npm ci exited 1") {
		t.Errorf("expected build failure, got %v", err)
	}
}

func TestBuildTemplateNotFoundCarriesBody(t *testing.T) {
	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/templates/build", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"RESOURCE_NOT_FOUND","details":{"resource_type":"template"}}`))
		})
	})

	_, err := client.BuildTemplate(context.Background(), NewTemplate("node:22"), BuildOptions{Name: "web", Update: true})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "resource_not_found") || !strings.Contains(msg, `"resource_type":"template"`) {
		t.Errorf("error must expose the upstream body, got %v", err)
	}
}

func TestBuildTemplateHonoursContext(t *testing.T) {
	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/templates/build", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusAccepted, map[string]any{"template_id": "tmpl_1", "build_id": "bld_1"})
		})
		r.HandleFunc("/v1/templates/build/bld_1/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "building"})
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.BuildTemplate(ctx, NewTemplate("node:22"), BuildOptions{Name: "web"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTemplatesListAndDelete(t *testing.T) {
	deleted := ""
	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/templates", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{map[string]any{"name": "code-interpreter"}}})
		}).Methods(http.MethodGet)
		r.HandleFunc("/v1/templates/{id}", func(w http.ResponseWriter, req *http.Request) {
			deleted = mux.Vars(req)["id"]
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodDelete)
	})

	templates, err := client.ListTemplates(context.Background())
	if err != nil || len(templates) != 1 || templates[0]["name"] != "code-interpreter" {
		t.Fatalf("list templates: %v %v", templates, err)
	}
	if err := client.DeleteTemplate(context.Background(), "tmpl_1"); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if deleted != "tmpl_1" {
		t.Errorf("expected tmpl_1 deleted, got %q", deleted)
	}
}
