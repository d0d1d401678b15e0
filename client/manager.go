package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ltmoamin/RentalCar/internal/models"
)

const (
	reconnectDelay    = 5 * time.Second
	heartbeatInterval = 4 * time.Second
	pongWait          = 3 * heartbeatInterval
	writeWait         = 10 * time.Second
)

// ConnState is the externally observable connection lifecycle state.
// No intermediate authenticating state is exposed.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ErrNotConnected is returned by Publish when there is no live channel.
// Publishes are advisory and never retried.
var ErrNotConnected = errors.New("not connected")

// Manager owns the single persistent websocket per authenticated user.
// On unexpected drops it retries after a fixed delay forever. The fixed
// delay with no backoff keeps the client simple and the reconnect time
// predictable.
type Manager struct {
	endpoint string
	token    func() string
	onFrame  func(models.Frame)
	dialer   *websocket.Dialer

	delay     time.Duration
	heartbeat time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	state  ConnState
	states chan ConnState

	writeMu sync.Mutex
}

// NewManager wires a manager to the websocket endpoint. token is
// consulted on every connect attempt so a refreshed credential is
// picked up without re-creating the manager. onFrame receives every
// inbound frame in arrival order.
func NewManager(endpoint string, token func() string, onFrame func(models.Frame)) *Manager {
	return &Manager{
		endpoint:  endpoint,
		token:     token,
		onFrame:   onFrame,
		dialer:    websocket.DefaultDialer,
		delay:     reconnectDelay,
		heartbeat: heartbeatInterval,
		state:     StateDisconnected,
		states:    make(chan ConnState, 16),
	}
}

// States streams connection state transitions. Slow consumers lose
// intermediate transitions, never the channel.
func (m *Manager) States() <-chan ConnState {
	return m.states
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection loop. It is idempotent: a second call
// while a loop is active is a no-op. Without a credential it does
// nothing at all.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	if m.token() == "" {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

// Disconnect tears down the connection and stops reconnecting. Safe to
// call when not connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.setState(StateDisconnected)
}

// Publish sends an advisory client-to-server frame. At-most-once: a
// failed publish is reported but never retried.
func (m *Manager) Publish(p models.Publish) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(p)
}

func (m *Manager) run(ctx context.Context) {
	for {
		m.setState(StateConnecting)

		conn, err := m.dial(ctx)
		if err != nil {
			m.setState(StateDisconnected)
			slog.Debug("connect failed", "error", err)
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)

		m.pump(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()
		m.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !m.sleep(ctx) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("token", m.token())

	conn, resp, err := m.dialer.DialContext(ctx, m.endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// pump reads frames until the connection dies, answering server pings
// and sending its own on the heartbeat interval. A missed pong trips
// the read deadline and lands in the reconnect path.
func (m *Manager) pump(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(m.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				m.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("connection lost", "error", err)
			}
			return
		}
		m.onFrame(frame)
	}
}

func (m *Manager) sleep(ctx context.Context) bool {
	select {
	case <-time.After(m.delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) setState(s ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	select {
	case m.states <- s:
	default:
	}
}
