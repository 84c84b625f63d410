package hopx

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

func TestOpenTerminal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 4)

	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/sandboxes/sbx_1/agent/terminal", func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				t.Errorf("upgrade failed: %v", err)
				return
			}
			defer conn.Close()
			conn.WriteMessage(websocket.BinaryMessage, []byte("$ "))
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				received <- string(data)
			}
		})
	})

	sbx := client.newSandbox("sbx_1", nil)
	term, err := sbx.OpenTerminal(context.Background())
	if err != nil {
		t.Fatalf("open terminal: %v", err)
	}
	defer term.Close()

	out, err := term.Read()
	if err != nil || string(out) != "$ " {
		t.Fatalf("read prompt: %q %v", out, err)
	}

	if err := term.WriteInput([]byte("ls\r")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := term.Resize(120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}

	select {
	case got := <-received:
		if got != "ls\r" {
			t.Errorf("expected raw input, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for input")
	}

	select {
	case got := <-received:
		var msg resizeMessage
		if err := json.Unmarshal([]byte(got), &msg); err != nil {
			t.Fatalf("resize must be json: %q", got)
		}
		if msg != (resizeMessage{Type: "resize", Cols: 120, Rows: 40}) {
			t.Errorf("unexpected resize message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resize")
	}

	if err := term.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	term.Close()
}

func TestOpenTerminalRejected(t *testing.T) {
	_, client := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/v1/sandboxes/sbx_1/agent/terminal", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	})

	_, err := client.newSandbox("sbx_1", nil).OpenTerminal(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
}
