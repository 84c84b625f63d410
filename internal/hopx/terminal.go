package hopx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const terminalWriteWait = 10 * time.Second

// Terminal is an interactive shell session on the sandbox agent.
type Terminal struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type resizeMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

var terminalDialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 15 * time.Second,
}

// OpenTerminal dials the agent's terminal websocket.
func (s *Sandbox) OpenTerminal(ctx context.Context) (*Terminal, error) {
	u := s.agentURL + "/terminal"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	header := http.Header{}
	header.Set("X-API-Key", s.client.apiKey)

	conn, resp, err := terminalDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open terminal: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("open terminal: %w", err)
	}
	return &Terminal{conn: conn}, nil
}

// Read blocks for the next chunk of output. Text and binary frames are both
// returned as bytes.
func (t *Terminal) Read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *Terminal) WriteInput(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(terminalWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Terminal) Resize(cols, rows int) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(terminalWriteWait))
	return t.conn.WriteJSON(resizeMessage{Type: "resize", Cols: cols, Rows: rows})
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
