package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDialSendsCredentialsAndModel(t *testing.T) {
	headers := make(chan http.Header, 1)
	queries := make(chan string, 1)
	received := make(chan string, 4)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		queries <- r.URL.Query().Get("model")

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	}))
	defer server.Close()

	dialer, err := NewDialer("ws"+strings.TrimPrefix(server.URL, "http"), "gpt-test", "secret")
	if err != nil {
		t.Fatalf("expected dialer, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer conn.Close()

	h := <-headers
	if got := h.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Fatalf("expected realtime beta header, got %q", got)
	}
	if got := <-queries; got != "gpt-test" {
		t.Fatalf("expected model gpt-test, got %q", got)
	}

	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected message, got %v", err)
	}
	if string(msg) != `{"type":"session.created"}` {
		t.Fatalf("expected session.created, got %s", msg)
	}

	if err := conn.WriteMessages([]byte("one"), []byte("two")); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	for _, want := range []string{"one", "two"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	dialer, err := NewDialer("ws"+strings.TrimPrefix(server.URL, "http"), "", "secret")
	if err != nil {
		t.Fatalf("expected dialer, got %v", err)
	}
	conn, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}

	_ = conn.Close()
	_ = conn.Close()

	if err := conn.WriteMessages([]byte("late")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected read on closed connection to fail")
	}
}

func TestNewDialerRejectsHTTPScheme(t *testing.T) {
	if _, err := NewDialer("https://api.openai.com/v1/realtime", "m", "k"); err == nil {
		t.Fatalf("expected http scheme to be rejected")
	}
}
