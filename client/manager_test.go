package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ltmoamin/RentalCar/internal/models"
)

type wsTestServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokens = append(s.tokens, r.Header.Get("token"))
		s.mu.Unlock()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsTestServer) wsURL() string {
	return "ws://" + strings.TrimPrefix(s.URL, "http://")
}

func (s *wsTestServer) send(t *testing.T, frame models.Frame) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no connection to send on")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(frame); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func (s *wsTestServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *wsTestServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func waitForState(t *testing.T, states <-chan ConnState, want ConnState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestManager_ConnectAndReceive(t *testing.T) {
	server := newWSTestServer(t)

	frames := make(chan models.Frame, 10)
	m := NewManager(server.wsURL(), func() string { return "tok-1" }, func(f models.Frame) {
		frames <- f
	})
	m.delay = 50 * time.Millisecond

	states := m.States()
	m.Connect(context.Background())
	defer m.Disconnect()

	waitForState(t, states, StateConnected)

	// Credential travels in the handshake header
	server.mu.Lock()
	token := server.tokens[0]
	server.mu.Unlock()
	if token != "tok-1" {
		t.Errorf("expected token header tok-1, got %q", token)
	}

	frame, err := models.NewFrame(models.ChannelTyping, models.TypingIndicator{ConversationID: "c1", IsTyping: true})
	if err != nil {
		t.Fatal(err)
	}
	server.send(t, frame)

	select {
	case got := <-frames:
		if got.Channel != models.ChannelTyping {
			t.Errorf("expected typing frame, got %s", got.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Error("frame not delivered to handler")
	}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	server := newWSTestServer(t)

	m := NewManager(server.wsURL(), func() string { return "tok" }, func(models.Frame) {})
	m.delay = 50 * time.Millisecond

	states := m.States()
	m.Connect(context.Background())
	defer m.Disconnect()
	waitForState(t, states, StateConnected)

	// Second connect must not open a second socket
	m.Connect(context.Background())
	time.Sleep(100 * time.Millisecond)
	if got := server.connCount(); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}
}

func TestManager_NoTokenNoConnect(t *testing.T) {
	server := newWSTestServer(t)

	m := NewManager(server.wsURL(), func() string { return "" }, func(models.Frame) {})
	m.Connect(context.Background())

	time.Sleep(100 * time.Millisecond)
	if got := server.connCount(); got != 0 {
		t.Errorf("connected without a credential: %d connections", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	server := newWSTestServer(t)

	m := NewManager(server.wsURL(), func() string { return "tok" }, func(models.Frame) {})
	m.delay = 50 * time.Millisecond

	states := m.States()
	m.Connect(context.Background())
	defer m.Disconnect()
	waitForState(t, states, StateConnected)

	server.dropConnections()
	waitForState(t, states, StateDisconnected)

	// Fixed-delay retry brings it back
	waitForState(t, states, StateConnected)
	if got := server.connCount(); got != 1 {
		t.Errorf("expected a fresh connection after drop, got %d", got)
	}
}

func TestManager_DisconnectIsSafeWhenNotConnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:0", func() string { return "tok" }, func(models.Frame) {})
	m.Disconnect()
	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}

	if err := m.Publish(models.Publish{Type: models.PublishTypeMarkRead, ConversationID: "c1"}); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
