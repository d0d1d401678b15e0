package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/models"
	"github.com/ltmoamin/RentalCar/internal/storage"
)

type mockHub struct {
	mu     sync.Mutex
	frames map[string][]models.Frame
	online map[string]bool
}

func newMockHub() *mockHub {
	return &mockHub{
		frames: make(map[string][]models.Frame),
		online: make(map[string]bool),
	}
}

func (m *mockHub) SendTo(userID string, frame models.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online[userID] {
		return false
	}
	m.frames[userID] = append(m.frames[userID], frame)
	return true
}

func (m *mockHub) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID]
}

func (m *mockHub) setOnline(userID string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = online
}

func (m *mockHub) framesFor(userID string, channel models.Channel) []models.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Frame
	for _, f := range m.frames[userID] {
		if f.Channel == channel {
			out = append(out, f)
		}
	}
	return out
}

type mockPush struct {
	enabled bool
	sentCh  chan models.Notification
}

func (m *mockPush) Enabled() bool { return m.enabled }

func (m *mockPush) Send(ctx context.Context, sub models.PushSubscription, n models.Notification) error {
	m.sentCh <- n
	return nil
}

func newTestService(t *testing.T) (*Service, *storage.BboltStorage, *mockHub, *mockPush) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "chat_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := storage.NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := newMockHub()
	pushSender := &mockPush{sentCh: make(chan models.Notification, 10)}
	svc := NewService(store, hub, pushSender)

	seedUser(t, store, "cust1", "Alice", models.RoleUser)
	seedUser(t, store, "admin1", "Support", models.RoleAdmin)

	return svc, store, hub, pushSender
}

func seedUser(t *testing.T, store *storage.BboltStorage, id, name string, role models.Role) {
	t.Helper()
	err := store.UpsertCredentials(auth.UserCredentials{
		User: models.User{
			ID:     id,
			Email:  id + "@example.com",
			Name:   name,
			Role:   role,
			Status: models.UserStatusActive,
		},
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
}

func TestService_SendMessage(t *testing.T) {
	svc, _, hub, _ := newTestService(t)
	hub.setOnline("cust1", true)
	hub.setOnline("admin1", true)

	msg, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		Content:     "hello there",
		MessageType: models.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("message has no server id")
	}
	if msg.ConversationID == "" {
		t.Error("message has no conversation id")
	}
	if msg.SenderName != "Alice" {
		t.Errorf("expected sender name Alice, got %s", msg.SenderName)
	}
	if msg.ContentHTML == "" {
		t.Error("TEXT message has no rendered HTML")
	}

	// Echo frame reaches both participants
	if got := hub.framesFor("admin1", models.ChannelMessages); len(got) != 1 {
		t.Errorf("expected 1 message frame for receiver, got %d", len(got))
	}
	if got := hub.framesFor("cust1", models.ChannelMessages); len(got) != 1 {
		t.Errorf("expected 1 echo frame for sender, got %d", len(got))
	}

	// Receiver gets a chat notification
	if got := hub.framesFor("admin1", models.ChannelNotifications); len(got) != 1 {
		t.Errorf("expected 1 notification frame for receiver, got %d", len(got))
	}
	if got := hub.framesFor("cust1", models.ChannelNotifications); len(got) != 0 {
		t.Errorf("sender received %d notification frames", len(got))
	}

	// Receiver's unread counter is incremented
	convs, err := svc.Conversations("admin1")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("expected receiver unread 1, got %d", convs[0].UnreadCount)
	}
	if convs[0].LastMessage != "hello there" {
		t.Errorf("expected preview 'hello there', got %q", convs[0].LastMessage)
	}

	// Sender's view of the same thread has no unread
	senderConvs, _ := svc.Conversations("cust1")
	if senderConvs[0].UnreadCount != 0 {
		t.Errorf("expected sender unread 0, got %d", senderConvs[0].UnreadCount)
	}

	// A reply lands in the same conversation
	reply, err := svc.SendMessage("admin1", models.SendMessageRequest{
		ReceiverID:  "cust1",
		Content:     "hi, how can I help?",
		MessageType: models.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if reply.ConversationID != msg.ConversationID {
		t.Errorf("reply created a second conversation")
	}
}

func TestService_SendMessage_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		Content:     "   ",
		MessageType: models.MessageTypeText,
	}); err != ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage for blank text, got %v", err)
	}

	if _, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		MessageType: models.MessageTypeImage,
	}); err != ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage for media without URL, got %v", err)
	}

	// Markup is stripped before storage
	msg, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		Content:     `<script>alert("x")</script>hello`,
		MessageType: models.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if strings.Contains(msg.Content, "<script>") {
		t.Errorf("script tag survived sanitizing: %q", msg.Content)
	}
}

func TestService_MediaPreview(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		MediaURL:    "http://localhost/api/media/abc",
		MessageType: models.MessageTypeVoice,
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	convs, _ := svc.Conversations("cust1")
	if convs[0].LastMessage != "[VOICE]" {
		t.Errorf("expected [VOICE] preview, got %q", convs[0].LastMessage)
	}
}

func TestService_MarkConversationRead(t *testing.T) {
	svc, _, hub, _ := newTestService(t)
	hub.setOnline("cust1", true)

	msg, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		Content:     "ping",
		MessageType: models.MessageTypeText,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkConversationRead("admin1", msg.ConversationID); err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}

	convs, _ := svc.Conversations("admin1")
	if convs[0].UnreadCount != 0 {
		t.Errorf("expected unread 0 after read, got %d", convs[0].UnreadCount)
	}

	// Sender gets the receipt
	receipts := hub.framesFor("cust1", models.ChannelReadReceipts)
	if len(receipts) != 1 {
		t.Fatalf("expected 1 read receipt for sender, got %d", len(receipts))
	}

	// Message read flags flipped
	page, err := svc.MessagesPage("cust1", msg.ConversationID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !page.Content[0].Read {
		t.Error("message still unread after MarkConversationRead")
	}
}

func TestService_Authorization(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedUser(t, store, "cust2", "Mallory", models.RoleUser)

	msg, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		Content:     "private",
		MessageType: models.MessageTypeText,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.MessagesPage("cust2", msg.ConversationID, 0, 10); err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
	if err := svc.DeleteConversation("cust2", msg.ConversationID); err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestService_TogglesArePerSide(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	conv, err := svc.StartConversation("cust1", "admin1")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	pinned, err := svc.TogglePin("cust1", conv.ID)
	if err != nil || !pinned {
		t.Fatalf("expected pin true, got %v err %v", pinned, err)
	}

	// The other side's flag is untouched
	adminConvs, _ := svc.Conversations("admin1")
	if adminConvs[0].Pinned {
		t.Error("customer pin leaked into admin view")
	}

	archived, err := svc.ToggleArchive("admin1", conv.ID)
	if err != nil || !archived {
		t.Fatalf("expected archive true, got %v err %v", archived, err)
	}
	custConvs, _ := svc.Conversations("cust1")
	if custConvs[0].Archived {
		t.Error("admin archive leaked into customer view")
	}

	// Toggling back
	pinned, _ = svc.TogglePin("cust1", conv.ID)
	if pinned {
		t.Error("expected pin false after second toggle")
	}
}

func TestService_Partners(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedUser(t, store, "cust2", "Bob", models.RoleUser)

	partners, err := svc.Partners("cust1")
	if err != nil {
		t.Fatal(err)
	}
	if len(partners) != 1 || partners[0].ID != "admin1" {
		t.Errorf("expected customer to see only admins, got %+v", partners)
	}

	partners, err = svc.Partners("admin1")
	if err != nil {
		t.Fatal(err)
	}
	if len(partners) != 2 {
		t.Errorf("expected admin to see both customers, got %+v", partners)
	}
}

func TestService_OfflineNotificationFallsBackToPush(t *testing.T) {
	svc, store, hub, pushSender := newTestService(t)
	pushSender.enabled = true

	// Receiver offline with a registered subscription
	hub.setOnline("admin1", false)
	err := store.UpsertPushSubscription(storage.DBPushSubscription{
		UserID:   "admin1",
		Endpoint: "https://push.example.com/s1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SendMessage("cust1", models.SendMessageRequest{
		ReceiverID:  "admin1",
		Content:     "anyone there?",
		MessageType: models.MessageTypeText,
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case n := <-pushSender.sentCh:
		if n.Title != models.ChatNotificationTitlePrefix+"Alice" {
			t.Errorf("unexpected push title %q", n.Title)
		}
	case <-time.After(2 * time.Second):
		t.Error("no web push sent for offline receiver")
	}
}

func TestService_NotificationReadFlows(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage("cust1", models.SendMessageRequest{
			ReceiverID:  "admin1",
			Content:     "msg",
			MessageType: models.MessageTypeText,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.CreateNotification("admin1", "Booking confirmed", "Your car is ready", models.NotificationTypeBooking, "/bookings/1"); err != nil {
		t.Fatal(err)
	}

	count, err := svc.UnreadNotificationCount("admin1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Fatalf("expected 4 unread, got %d", count)
	}

	// Per-sender chat mark leaves the booking notification alone
	updated, err := svc.MarkChatNotificationsRead("admin1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if updated != 3 {
		t.Errorf("expected 3 chat notifications marked, got %d", updated)
	}
	count, _ = svc.UnreadNotificationCount("admin1")
	if count != 1 {
		t.Errorf("expected 1 unread, got %d", count)
	}

	list, err := svc.Notifications("admin1")
	if err != nil {
		t.Fatal(err)
	}
	if list[0].ID == "" || !list[0].CreatedAt.After(time.Time{}) {
		t.Error("notification DTO missing fields")
	}

	if err := svc.MarkAllNotificationsRead("admin1"); err != nil {
		t.Fatal(err)
	}
	count, _ = svc.UnreadNotificationCount("admin1")
	if count != 0 {
		t.Errorf("expected 0 unread after mark all, got %d", count)
	}
}
