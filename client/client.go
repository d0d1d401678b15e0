// Package client is the application-side core of the chat and
// notification system: one managed connection, typed frame routing,
// and the conversation, notification and message-stream state the UI
// renders from.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/models"
)

// Client binds the REST surface and the connection manager to the
// client-side stores. Lifecycle is explicit: Login initializes the
// stores and connects, Logout tears everything down.
type Client struct {
	baseURL string
	wsURL   string
	httpc   *http.Client

	mu          sync.Mutex
	token       string
	self        models.User
	stream      *Stream
	typingState map[string]models.TypingIndicator

	manager       *Manager
	conversations *ConversationStore
	notifications *NotificationFeed
	typing        *TypingNotifier
}

func New(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	wsURL := baseURL + "/api/chat"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	c := &Client{
		baseURL:     baseURL,
		wsURL:       wsURL,
		httpc:       &http.Client{},
		typingState: make(map[string]models.TypingIndicator),
	}

	r := &router{
		onMessage:      c.handleMessage,
		onReadReceipt:  c.handleReadReceipt,
		onTyping:       c.handleTyping,
		onNotification: c.handleNotification,
	}
	c.manager = NewManager(c.wsURL, c.currentToken, r.dispatch)
	return c
}

// Login authenticates, initializes the stores for the identity and
// starts the connection loop.
func (c *Client) Login(email, password string) (models.User, error) {
	var resp auth.LoginResponse
	if err := c.do(http.MethodPost, "/api/login", auth.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return models.User{}, err
	}
	if !resp.Success {
		return models.User{}, fmt.Errorf("login rejected: %s", resp.Message)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.self = resp.User
	c.stream = nil
	c.typingState = make(map[string]models.TypingIndicator)
	c.conversations = NewConversationStore(c, resp.User.ID)
	c.notifications = NewNotificationFeed(c)
	c.typing = NewTypingNotifier(c.publishTyping)
	c.mu.Unlock()

	c.manager.Connect(context.Background())
	return resp.User, nil
}

// Logout tears down the subscriptions, drops the credential and clears
// all store state.
func (c *Client) Logout() {
	c.mu.Lock()
	token := c.token
	typing := c.typing
	c.token = ""
	c.stream = nil
	c.conversations = nil
	c.notifications = nil
	c.typing = nil
	c.typingState = make(map[string]models.TypingIndicator)
	c.mu.Unlock()

	if typing != nil {
		typing.Close()
	}
	c.manager.Disconnect()

	if token != "" {
		if err := c.doWithToken(http.MethodPost, "/api/logoff", token, nil, nil); err != nil {
			slog.Debug("logoff failed", "error", err)
		}
	}
}

// Self returns the authenticated identity.
func (c *Client) Self() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Conversations returns the conversation store, nil before login.
func (c *Client) Conversations() *ConversationStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversations
}

// Notifications returns the notification feed, nil before login.
func (c *Client) Notifications() *NotificationFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifications
}

// Typing returns the typing notifier, nil before login.
func (c *Client) Typing() *TypingNotifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// States streams connection state transitions.
func (c *Client) States() <-chan ConnState {
	return c.manager.States()
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() ConnState {
	return c.manager.State()
}

// TypingState returns the latest typing indicator for a conversation.
// Each indicator supersedes the previous one.
func (c *Client) TypingState(conversationID string) (models.TypingIndicator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ind, ok := c.typingState[conversationID]
	return ind, ok
}

// RefreshConversations fetches the list and reloads the store.
func (c *Client) RefreshConversations() error {
	var list []models.Conversation
	if err := c.do(http.MethodGet, "/api/chat/conversations", nil, &list); err != nil {
		return err
	}
	if convs := c.Conversations(); convs != nil {
		convs.Replace(list)
	}
	return nil
}

// RefreshNotifications fetches the working set and reconciles the
// unread counter against the server's count.
func (c *Client) RefreshNotifications() error {
	feed := c.Notifications()
	if feed == nil {
		return nil
	}

	var list []models.Notification
	if err := c.do(http.MethodGet, "/api/notifications", nil, &list); err != nil {
		return err
	}
	feed.Ingest(list)

	var count struct {
		Count int `json:"count"`
	}
	if err := c.do(http.MethodGet, "/api/notifications/unread-count", nil, &count); err != nil {
		return err
	}
	feed.SetUnreadCount(count.Count)
	return nil
}

// OpenConversation makes the conversation active: fetches the latest
// history page, builds the message stream and marks the thread read.
func (c *Client) OpenConversation(conversationID string) (*Stream, error) {
	var page models.MessagePage
	path := fmt.Sprintf("/api/chat/messages/%s?page=0&size=50", url.PathEscape(conversationID))
	if err := c.do(http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	c.mu.Lock()
	selfID := c.self.ID
	c.mu.Unlock()

	stream := NewStream(conversationID, selfID, c, nil)
	// History pages arrive newest first; the sequence is oldest first.
	oldest := make([]models.Message, len(page.Content))
	for i, m := range page.Content {
		oldest[len(page.Content)-1-i] = m
	}
	stream.Load(oldest)

	c.mu.Lock()
	c.stream = stream
	convs := c.conversations
	c.mu.Unlock()

	if convs != nil {
		convs.SetActive(conversationID)
		convs.MarkRead(conversationID)
	}
	return stream, nil
}

// CloseConversation clears the active selection.
func (c *Client) CloseConversation() {
	c.mu.Lock()
	c.stream = nil
	convs := c.conversations
	c.mu.Unlock()

	if convs != nil {
		convs.SetActive("")
	}
}

// ActiveStream returns the reconciler for the open conversation.
func (c *Client) ActiveStream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Partners lists the identities the caller can start a thread with.
func (c *Client) Partners() ([]models.ChatPartner, error) {
	var partners []models.ChatPartner
	err := c.do(http.MethodGet, "/api/chat/partners", nil, &partners)
	return partners, err
}

// StartConversation opens (or returns the existing) thread with a
// partner.
func (c *Client) StartConversation(partnerID string) (models.Conversation, error) {
	var conv models.Conversation
	body := map[string]string{"userId": partnerID}
	err := c.do(http.MethodPost, "/api/chat/start", body, &conv)
	return conv, err
}

// UploadMedia stores a media file server-side and returns its URL and
// the sniffed message type to send it with.
func (c *Client) UploadMedia(filename string, r io.Reader) (mediaURL string, mediaType models.MessageType, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", "", err
	}
	if err := mw.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/chat/upload", &buf)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("token", c.currentToken())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("upload failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		URL       string `json:"url"`
		MediaType string `json:"mediaType"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.URL, models.MessageType(result.MediaType), nil
}

// SendMessage posts a message. Streams call this through their send
// path; it can also be used directly for fire-and-forget sends into
// conversations that are not open.
func (c *Client) SendMessage(req models.SendMessageRequest) (models.Message, error) {
	var msg models.Message
	err := c.do(http.MethodPost, "/api/chat/send", req, &msg)
	return msg, err
}

// TogglePin flips the pin flag server-side.
func (c *Client) TogglePin(conversationID string) (bool, error) {
	var resp struct {
		Pinned bool `json:"pinned"`
	}
	path := "/api/chat/pin/" + url.PathEscape(conversationID)
	err := c.do(http.MethodPut, path, nil, &resp)
	return resp.Pinned, err
}

// ToggleArchive flips the archive flag server-side.
func (c *Client) ToggleArchive(conversationID string) (bool, error) {
	var resp struct {
		Archived bool `json:"archived"`
	}
	path := "/api/chat/archive/" + url.PathEscape(conversationID)
	err := c.do(http.MethodPut, path, nil, &resp)
	return resp.Archived, err
}

// DeleteConversation removes the thread server-side.
func (c *Client) DeleteConversation(conversationID string) error {
	return c.do(http.MethodDelete, "/api/chat/"+url.PathEscape(conversationID), nil, nil)
}

// SignalRead tells the server the thread was read. Preferred path is
// the advisory publish; without a live connection it falls back to the
// REST call. Failures are logged, never surfaced: the local state is
// already updated and the server converges on the next fetch.
func (c *Client) SignalRead(conversationID string) {
	err := c.manager.Publish(models.Publish{
		Type:           models.PublishTypeMarkRead,
		ConversationID: conversationID,
	})
	if err == nil {
		return
	}

	path := "/api/chat/read/" + url.PathEscape(conversationID)
	if err := c.do(http.MethodPut, path, nil, nil); err != nil {
		slog.Debug("mark read signal failed", "conversation", conversationID, "error", err)
	}
}

// MarkNotificationRead marks a single notification read server-side.
func (c *Client) MarkNotificationRead(id string) error {
	return c.do(http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkSenderNotificationsRead marks every chat notification from one
// sender read server-side.
func (c *Client) MarkSenderNotificationsRead(sender string) error {
	path := "/api/notifications/read-chat?senderName=" + url.QueryEscape(sender)
	return c.do(http.MethodPatch, path, nil, nil)
}

// MarkAllNotificationsRead marks everything read server-side.
func (c *Client) MarkAllNotificationsRead() error {
	return c.do(http.MethodPatch, "/api/notifications/read-all", nil, nil)
}

// SubscribePush registers a web-push subscription for delivery while
// disconnected.
func (c *Client) SubscribePush(sub models.PushSubscription) error {
	return c.do(http.MethodPost, "/api/push/subscribe", sub, nil)
}

func (c *Client) publishTyping(conversationID string, isTyping bool) {
	err := c.manager.Publish(models.Publish{
		Type:           models.PublishTypeTyping,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		slog.Debug("typing publish dropped", "conversation", conversationID, "error", err)
	}
}

func (c *Client) handleMessage(msg models.Message) {
	if convs := c.Conversations(); convs != nil {
		convs.UpsertFromMessage(msg)
	}
	if stream := c.ActiveStream(); stream != nil {
		stream.HandleInbound(msg)
	}
}

func (c *Client) handleReadReceipt(receipt models.ReadReceipt) {
	if stream := c.ActiveStream(); stream != nil {
		stream.ApplyReceipt(receipt)
	}
}

func (c *Client) handleTyping(indicator models.TypingIndicator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typingState[indicator.ConversationID] = indicator
}

func (c *Client) handleNotification(n models.Notification) {
	if feed := c.Notifications(); feed != nil {
		feed.Push(n)
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) do(method, path string, body, out any) error {
	return c.doWithToken(method, path, c.currentToken(), body, out)
}

func (c *Client) doWithToken(method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("token", token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
