package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/hyper-ai-inc/hopx-panel/internal/metrics"
	"github.com/hyper-ai-inc/hopx-panel/internal/sandboxes"
	"github.com/hyper-ai-inc/hopx-panel/internal/sessions"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

const (
	sessionClosedLine = "\r\n[session closed]\r\n"
	proxyErrorFormat  = "\r\n[terminal proxy error] %s\r\n"
)

// ControlMessage is the JSON envelope a client sends to resize the terminal.
type ControlMessage struct {
	Type string      `json:"type"`
	Cols json.Number `json:"cols"`
	Rows json.Number `json:"rows"`
}

// ParseResize reports whether data is a resize envelope with usable
// dimensions. Dimensions may be JSON numbers or numeric strings. Anything
// else is terminal input.
func ParseResize(data []byte) (cols, rows int, ok bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "resize" {
		return 0, 0, false
	}
	c, err := msg.Cols.Int64()
	if err != nil {
		return 0, 0, false
	}
	r, err := msg.Rows.Int64()
	if err != nil || c <= 0 || r <= 0 || c > math.MaxUint16 || r > math.MaxUint16 {
		return 0, 0, false
	}
	return int(c), int(r), true
}

// relay bridges one client socket and one upstream terminal. The client
// socket has a single writer; the upstream terminal is closed through the
// session.
type relay struct {
	conn     *websocket.Conn
	upstream sandboxes.Terminal
	session  *sessions.Session
	manager  *sessions.Manager
	logger   *log.Logger
	metrics  *metrics.Metrics

	send         chan []byte
	flush        chan struct{} // upstream ended; write what is queued, then close
	stop         chan struct{} // client ended
	writerDone   chan struct{}
	upstreamDone chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

func newRelay(conn *websocket.Conn, upstream sandboxes.Terminal, session *sessions.Session, manager *sessions.Manager, logger *log.Logger, m *metrics.Metrics) *relay {
	return &relay{
		conn:         conn,
		upstream:     upstream,
		session:      session,
		manager:      manager,
		logger:       logger,
		metrics:      m,
		send:         make(chan []byte, 256),
		flush:        make(chan struct{}),
		stop:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		upstreamDone: make(chan struct{}),
	}
}

// run blocks until both sides are closed.
func (r *relay) run(greeting string) {
	r.enqueue([]byte(greeting))
	r.metrics.TerminalMessage("out", "info")

	go r.writePump()
	go r.upstreamPump()
	r.readPump()

	r.stopOnce.Do(func() { close(r.stop) })
	if err := r.manager.Delete(r.session.ID); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		r.logger.Debug("closing upstream terminal", "err", err)
	}
	<-r.writerDone
	<-r.upstreamDone
}

// enqueue hands data to the writer. It reports false once the writer is gone.
func (r *relay) enqueue(data []byte) bool {
	select {
	case r.send <- data:
		return true
	case <-r.writerDone:
		return false
	}
}

func (r *relay) proxyError(err error) {
	r.logger.Warn("terminal relay error", "err", err)
	r.metrics.TerminalMessage("out", "info")
	r.enqueue(fmt.Appendf(nil, proxyErrorFormat, errorMessage(err)))
}

// readPump forwards client messages upstream until the client goes away.
func (r *relay) readPump() {
	r.conn.SetReadLimit(maxMessageSize)
	r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				r.logger.Debug("terminal client error", "err", err)
			}
			return
		}

		if cols, rows, ok := ParseResize(data); ok {
			r.metrics.TerminalMessage("in", "resize")
			r.session.SetGeometry(cols, rows)
			if err := r.upstream.Resize(cols, rows); err != nil {
				r.proxyError(err)
			}
			continue
		}

		r.metrics.TerminalMessage("in", "input")
		if err := r.upstream.WriteInput(data); err != nil {
			r.proxyError(err)
		}
	}
}

// upstreamPump forwards terminal output to the client until the upstream
// session ends.
func (r *relay) upstreamPump() {
	defer close(r.upstreamDone)

	var carry utf8Carry
	for {
		data, err := r.upstream.Read()
		if err != nil {
			break
		}
		r.metrics.TerminalMessage("out", "output")
		out := carry.next(data)
		if len(out) == 0 {
			continue
		}
		if !r.enqueue(out) {
			return
		}
	}
	if rest := carry.flush(); len(rest) > 0 && !r.enqueue(rest) {
		return
	}

	select {
	case <-r.stop:
	default:
		r.metrics.TerminalMessage("out", "info")
		r.enqueue([]byte(sessionClosedLine))
	}
	close(r.flush)
}

// utf8Carry keeps text frames valid UTF-8. A character split across two
// upstream reads is held back until its remaining bytes arrive; bytes that
// can never form a character become U+FFFD.
type utf8Carry struct {
	pending []byte
}

func (c *utf8Carry) next(data []byte) []byte {
	buf := append(c.pending, data...)
	cut := incompleteTail(buf)
	c.pending = append([]byte(nil), buf[cut:]...)
	return bytes.ToValidUTF8(buf[:cut], []byte(string(utf8.RuneError)))
}

// flush returns whatever is still held back once the upstream has ended.
func (c *utf8Carry) flush() []byte {
	if len(c.pending) == 0 {
		return nil
	}
	out := bytes.ToValidUTF8(c.pending, []byte(string(utf8.RuneError)))
	c.pending = nil
	return out
}

// incompleteTail returns the offset of a trailing partial character in b,
// or len(b) when b ends on a character boundary.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// writePump is the only writer of the client socket.
func (r *relay) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		r.closeClient()
		close(r.writerDone)
	}()

	for {
		select {
		case data := <-r.send:
			if err := r.write(websocket.TextMessage, data); err != nil {
				return
			}

		case <-r.flush:
			if err := r.drain(); err != nil {
				return
			}
			r.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return

		case <-r.stop:
			return

		case <-ticker.C:
			if err := r.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain writes whatever is already queued.
func (r *relay) drain() error {
	for {
		select {
		case data := <-r.send:
			if err := r.write(websocket.TextMessage, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *relay) write(messageType int, data []byte) error {
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteMessage(messageType, data)
}

func (r *relay) closeClient() {
	r.closeOnce.Do(func() {
		r.conn.Close()
	})
}
