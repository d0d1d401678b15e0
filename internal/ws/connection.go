package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// heartbeatInterval is how often ping frames go out. Both sides of the
// socket ping on the same cadence; a missed pong closes the connection
// and the client falls back to its reconnect loop.
const heartbeatInterval = 4 * time.Second

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Ping() error
}

type frameHub interface {
	Join(userID string) chan models.Frame
	Leave(userID string, ch chan models.Frame)
}

// publishHandler receives the two advisory client publishes.
type publishHandler interface {
	HandleTyping(userID, conversationID string, isTyping bool)
	HandleMarkRead(userID, conversationID string)
}

type Connection struct {
	ws         wsConnection
	hub        frameHub
	handler    publishHandler
	userID     string
	fromClient chan json.RawMessage
	fromServer chan models.Frame
	errorCh    chan error
}

func NewConnection(
	hub frameHub,
	handler publishHandler,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		handler:    handler,
		userID:     userID,
		fromClient: make(chan json.RawMessage),
		fromServer: hub.Join(userID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	}()

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var raw json.RawMessage
		if err := c.ws.ReadJSON(&raw); err != nil {
			return err
		}
		select {
		case c.fromClient <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case raw := <-c.fromClient:
			c.processPublish(raw)
		case frame, ok := <-c.fromServer:
			if !ok {
				// Hub replaced this connection.
				return nil
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := c.ws.Ping(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processPublish dispatches a client publish. Malformed payloads are
// logged and dropped: one bad frame must not take down the stream.
func (c *Connection) processPublish(raw json.RawMessage) {
	var pub models.Publish
	if err := json.Unmarshal(raw, &pub); err != nil {
		slog.Debug("dropping malformed publish", "user_id", c.userID, "error", err)
		return
	}

	switch pub.Type {
	case models.PublishTypeTyping:
		c.handler.HandleTyping(c.userID, pub.ConversationID, pub.IsTyping)
	case models.PublishTypeMarkRead:
		c.handler.HandleMarkRead(c.userID, pub.ConversationID)
	default:
		slog.Debug("dropping publish with unknown type", "user_id", c.userID, "type", pub.Type)
	}
}
