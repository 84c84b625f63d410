package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyper-ai-inc/hopx-panel/internal/auth"
	"github.com/hyper-ai-inc/hopx-panel/internal/config"
	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
	"github.com/hyper-ai-inc/hopx-panel/internal/metrics"
	"github.com/hyper-ai-inc/hopx-panel/internal/normalize"
	"github.com/hyper-ai-inc/hopx-panel/internal/sandboxes"
	"github.com/hyper-ai-inc/hopx-panel/internal/sessions"
	"github.com/hyper-ai-inc/hopx-panel/internal/ws"
)

const (
	maxBodyBytes       = 1 << 20
	codeInvalidRequest = "INVALID_REQUEST"
	codeNotFound       = "NOT_FOUND"
	codeBadMethod      = "METHOD_NOT_ALLOWED"
)

type Server struct {
	cfg       config.Config
	sandboxes *sandboxes.Service
	sessions  *sessions.Manager
	terminals *ws.Router
	auth      *auth.Middleware
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	validate  *validator.Validate
	logger    *log.Logger
}

// NewServer wires the façade, the terminal relay and the middleware for cfg.
// HopX credentials are only checked when an API call needs them.
func NewServer(cfg config.Config, logger *log.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := sandboxes.NewService(
		sandboxes.HopX(cfg.Credentials, hopx.WithHTTPClient(&http.Client{Timeout: cfg.HopX.Timeout})),
		sandboxes.WithLogger(logger.With("component", "sandboxes")),
		sandboxes.WithMetrics(m),
	)
	sm := sessions.NewManager()

	return &Server{
		cfg:       cfg,
		sandboxes: svc,
		sessions:  sm,
		terminals: ws.NewRouter(svc, sm,
			ws.WithAllowedOrigins(cfg.Terminal.AllowedOrigins),
			ws.WithLogger(logger.With("component", "terminal")),
			ws.WithMetrics(m),
		),
		auth:     auth.NewMiddleware(cfg.Auth.Token),
		metrics:  m,
		registry: registry,
		validate: newValidator(),
		logger:   logger.With("component", "http"),
	}
}

// Close ends every live terminal session.
func (s *Server) Close() {
	s.sessions.Shutdown()
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth.RequireAuth)

	// Templates
	api.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates", s.handleBuildTemplate).Methods(http.MethodPost)
	api.HandleFunc("/templates/{id}", s.handleDeleteTemplate).Methods(http.MethodDelete)

	// Sandboxes
	api.HandleFunc("/sandboxes", s.handleListSandboxes).Methods(http.MethodGet)
	api.HandleFunc("/sandboxes", s.handleCreateSandbox).Methods(http.MethodPost)
	api.HandleFunc("/sandboxes/{id}", s.handleGetSandbox).Methods(http.MethodGet)
	api.HandleFunc("/sandboxes/{id}", s.handleDeleteSandbox).Methods(http.MethodDelete)
	api.HandleFunc("/sandboxes/{id}/start", s.handleStartSandbox).Methods(http.MethodPost)
	api.HandleFunc("/sandboxes/{id}/stop", s.handleStopSandbox).Methods(http.MethodPost)

	// Filesystem
	api.HandleFunc("/sandboxes/{id}/files", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/sandboxes/{id}/file-content", s.handleReadFile).Methods(http.MethodGet)

	// Commands
	api.HandleFunc("/sandboxes/{id}/terminal", s.handleRunCommand).Methods(http.MethodPost)
	api.HandleFunc("/sandboxes/{id}/commands", s.handleStartCommand).Methods(http.MethodPost)
	api.HandleFunc("/sandboxes/{id}/processes", s.handleListProcesses).Methods(http.MethodGet)

	// Environment
	api.HandleFunc("/sandboxes/{id}/env", s.handleGetEnv).Methods(http.MethodGet)
	api.HandleFunc("/sandboxes/{id}/env", s.handleSetEnv).Methods(http.MethodPut)
	api.HandleFunc("/sandboxes/{id}/env/bulk", s.handleSetEnvBulk).Methods(http.MethodPost)
	api.HandleFunc("/sandboxes/{id}/env/{key}", s.handleDeleteEnv).Methods(http.MethodDelete)

	// Metrics and desktop
	api.HandleFunc("/sandboxes/{id}/metrics", s.handleGetMetrics).Methods(http.MethodGet)
	api.HandleFunc("/sandboxes/{id}/vnc", s.handleVNCStatus).Methods(http.MethodGet)
	api.HandleFunc("/sandboxes/{id}/vnc/start", s.handleStartVNC).Methods(http.MethodPost)
	api.HandleFunc("/sandboxes/{id}/vnc/stop", s.handleStopVNC).Methods(http.MethodPost)

	api.HandleFunc("/terminals", s.handleListTerminals).Methods(http.MethodGet)
	api.NotFoundHandler = s.metrics.Middleware(http.HandlerFunc(s.handleAPINotFound))
	api.MethodNotAllowedHandler = s.metrics.Middleware(http.HandlerFunc(s.handleAPIMethodNotAllowed))

	wsr := r.PathPrefix("/ws").Subrouter()
	wsr.Use(s.auth.RequireAuth)
	wsr.HandleFunc("/terminal", s.terminals.HandleTerminal).Methods(http.MethodGet)

	r.PathPrefix("/").Handler(s.staticHandler()).Methods(http.MethodGet, http.MethodHead)
	return r
}

// logRequests logs every request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := metrics.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.Status(), "duration", time.Since(start))
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeError maps façade failures: validation is the caller's fault, every
// other failure is reported as a server error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *sandboxes.Error
	if !errors.As(err, &e) {
		s.logger.Error("unexpected error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "INTERNAL"})
		return
	}
	if e.Kind == sandboxes.KindValidation {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: e.Message, Code: e.Code})
		return
	}
	ui := normalize.NewUIError(e.Code, err)
	s.logger.Warn("hopx call failed", "code", ui.Code, "cause", ui.Cause, "err", ui.Message)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: e.Message, Code: e.Code})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Code: codeInvalidRequest})
}

// decode reads an optional JSON body into v and validates it. It writes the
// 400 response itself and reports false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "Invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		badRequest(w, validationMessage(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage reports the first failed field in the panel's wording.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// staticHandler serves the built UI. Unknown paths get the SPA index so
// client-side routes survive a reload.
func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean("/" + r.URL.Path)
		for _, dir := range s.cfg.StaticDirs {
			full := filepath.Join(dir, filepath.FromSlash(clean))
			if fi, err := os.Stat(full); err == nil && !fi.IsDir() {
				http.ServeFile(w, r, full)
				return
			}
		}
		if len(s.cfg.StaticDirs) > 0 {
			index := filepath.Join(s.cfg.StaticDirs[0], "index.html")
			if _, err := os.Stat(index); err == nil {
				http.ServeFile(w, r, index)
				return
			}
		}
		http.NotFound(w, r)
	})
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found", Code: codeNotFound})
}

func (s *Server) handleAPIMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed", Code: codeBadMethod})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"hopxConfigured": s.cfg.HasAPIKey(),
		"terminals":      s.sessions.Len(),
	})
}
