// Package ws relays browser terminal sockets to HopX terminal sessions.
package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/hyper-ai-inc/hopx-panel/internal/metrics"
	"github.com/hyper-ai-inc/hopx-panel/internal/sandboxes"
	"github.com/hyper-ai-inc/hopx-panel/internal/sessions"
)

const connectTimeout = 30 * time.Second

// TerminalOpener opens an upstream terminal for a sandbox.
type TerminalOpener interface {
	OpenTerminal(ctx context.Context, sandboxID string) (sandboxes.Terminal, error)
}

// Router handles terminal WebSocket connections
type Router struct {
	terminals TerminalOpener
	sessions  *sessions.Manager
	upgrader  websocket.Upgrader
	origins   []string
	logger    *log.Logger
	metrics   *metrics.Metrics
}

type Option func(*Router)

// WithAllowedOrigins limits browser origins. An empty list allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(r *Router) {
		r.origins = origins
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter creates a new WebSocket router
func NewRouter(terminals TerminalOpener, sm *sessions.Manager, opts ...Option) *Router {
	r := &Router{
		terminals: terminals,
		sessions:  sm,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if len(r.origins) == 0 || slices.Contains(r.origins, "*") {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(r.origins, func(allowed string) bool {
		return strings.EqualFold(strings.TrimSuffix(allowed, "/"), u.Scheme+"://"+u.Host)
	})
}

// HandleTerminal upgrades to a WebSocket and relays it to a terminal on the
// sandbox named by the sandboxId query parameter. It returns when both sides
// are closed.
func (r *Router) HandleTerminal(w http.ResponseWriter, req *http.Request) {
	sandboxID := strings.TrimSpace(req.URL.Query().Get("sandboxId"))

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	if sandboxID == "" {
		r.reject(conn, "Missing sandboxId query parameter.\r\n")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), connectTimeout)
	upstream, err := r.terminals.OpenTerminal(ctx, sandboxID)
	cancel()
	if err != nil {
		r.logger.Warn("terminal connect failed", "sandbox", sandboxID, "err", err)
		r.reject(conn, "Unable to connect terminal: "+errorMessage(err)+"\r\n")
		return
	}

	session := r.sessions.Create(sandboxID, upstream)
	logger := r.logger.With("sandbox", sandboxID, "session", session.ID)
	logger.Info("terminal connected")
	r.metrics.TerminalOpened()
	defer r.metrics.TerminalClosed()

	newRelay(conn, upstream, session, r.sessions, logger, r.metrics).run("Connected to sandbox " + sandboxID + ".\r\n")
	logger.Info("terminal disconnected")
}

// reject sends a readable reason and closes the socket.
func (r *Router) reject(conn *websocket.Conn, message string) {
	defer conn.Close()

	r.metrics.TerminalMessage("out", "info")
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
}

func errorMessage(err error) string {
	var e *sandboxes.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
