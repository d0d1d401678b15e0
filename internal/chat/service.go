// Package chat implements the server side of the messaging and
// notification fan-out: conversations, message history, read state,
// typing relay and notification creation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ltmoamin/RentalCar/internal/content"
	"github.com/ltmoamin/RentalCar/internal/models"
	"github.com/ltmoamin/RentalCar/internal/push"
	"github.com/ltmoamin/RentalCar/internal/storage"
)

const previewMaxLen = 80

var (
	ErrNotParticipant = errors.New("not a conversation participant")
	ErrEmptyMessage   = errors.New("message has no content")
)

// Broadcaster delivers a frame to a user's live connection, if any.
type Broadcaster interface {
	SendTo(userID string, frame models.Frame) bool
	IsOnline(userID string) bool
}

// PushSender is the offline fallback for notification frames.
type PushSender interface {
	Enabled() bool
	Send(ctx context.Context, sub models.PushSubscription, n models.Notification) error
}

type Service struct {
	store *storage.BboltStorage
	hub   Broadcaster
	push  PushSender
	now   func() time.Time
}

func NewService(store *storage.BboltStorage, hub Broadcaster, pushSender PushSender) *Service {
	return &Service{
		store: store,
		hub:   hub,
		push:  pushSender,
		now:   time.Now,
	}
}

// SendMessage persists the message, updates the conversation preview
// and the receiver's unread counter, echoes the message frame to both
// participants and raises a chat notification for the receiver.
func (s *Service) SendMessage(senderID string, req models.SendMessageRequest) (models.Message, error) {
	text := content.Sanitize(req.Content)
	if req.MessageType == models.MessageTypeText && text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if req.MessageType != models.MessageTypeText && req.MediaURL == "" {
		return models.Message{}, ErrEmptyMessage
	}

	sender, err := s.store.GetUser(senderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("unknown sender: %w", err)
	}
	receiver, err := s.store.GetUser(req.ReceiverID)
	if err != nil {
		return models.Message{}, fmt.Errorf("unknown receiver: %w", err)
	}

	conv, err := s.findOrCreateConversation(sender, receiver)
	if err != nil {
		return models.Message{}, err
	}

	now := s.now()
	dbMsg := &storage.DBMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		Content:        text,
		MediaURL:       req.MediaURL,
		MessageType:    string(req.MessageType),
		CreatedAt:      now.UnixNano(),
	}
	if err := s.store.AppendMessage(dbMsg); err != nil {
		return models.Message{}, fmt.Errorf("failed to store message: %w", err)
	}

	msg := s.messageDTO(*dbMsg, sender, receiver)

	conv.LastMessage = truncate(msg.Preview(), previewMaxLen)
	conv.LastMessageAt = now.UnixNano()
	if receiver.ID == conv.UserID {
		conv.UnreadUser++
	} else {
		conv.UnreadAdmin++
	}
	if err := s.store.UpsertConversation(conv); err != nil {
		return models.Message{}, fmt.Errorf("failed to update conversation: %w", err)
	}

	if frame, err := models.NewFrame(models.ChannelMessages, msg); err == nil {
		// Stream echo goes to the sender too: the client de-duplicates
		// against the REST response by message id.
		s.hub.SendTo(receiver.ID, frame)
		s.hub.SendTo(sender.ID, frame)
	}

	s.raiseChatNotification(sender, receiver, msg)

	return msg, nil
}

func (s *Service) raiseChatNotification(sender, receiver models.User, msg models.Message) {
	_, err := s.CreateNotification(
		receiver.ID,
		models.ChatNotificationTitlePrefix+sender.Name,
		truncate(msg.Preview(), previewMaxLen),
		models.NotificationTypeChat,
		"/chat",
	)
	if err != nil {
		slog.Error("failed to create chat notification", "user_id", receiver.ID, "error", err)
	}
}

// CreateNotification persists a notification, pushes it over the
// receiver's stream and falls back to web push when they are offline.
func (s *Service) CreateNotification(userID, title, message string, typ models.NotificationType, link string) (models.Notification, error) {
	dbN := &storage.DBNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     content.Sanitize(title),
		Message:   content.Sanitize(message),
		Type:      string(typ),
		Link:      link,
		CreatedAt: s.now().UnixNano(),
	}
	if err := s.store.AppendNotification(dbN); err != nil {
		return models.Notification{}, fmt.Errorf("failed to store notification: %w", err)
	}

	n := notificationDTO(*dbN)

	delivered := false
	if frame, err := models.NewFrame(models.ChannelNotifications, n); err == nil {
		delivered = s.hub.SendTo(userID, frame)
	}
	if !delivered && s.push.Enabled() {
		go s.sendWebPush(userID, n)
	}

	return n, nil
}

func (s *Service) sendWebPush(userID string, n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subs, err := s.store.ListPushSubscriptions(userID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", userID, "error", err)
		return
	}
	for _, dbSub := range subs {
		sub := models.PushSubscription{Endpoint: dbSub.Endpoint}
		sub.Keys.P256dh = dbSub.P256dh
		sub.Keys.Auth = dbSub.Auth

		err := s.push.Send(ctx, sub, n)
		switch {
		case errors.Is(err, push.ErrSubscriptionGone):
			if err := s.store.DeletePushSubscription(userID, dbSub.Endpoint); err != nil {
				slog.Error("failed to drop stale push subscription", "user_id", userID, "error", err)
			}
		case err != nil:
			slog.Error("web push failed", "user_id", userID, "error", err)
		}
	}
}

func (s *Service) findOrCreateConversation(sender, receiver models.User) (storage.DBConversation, error) {
	// The customer is always the "user" side of the thread.
	userSide, adminSide := sender, receiver
	if sender.Role == models.RoleAdmin {
		userSide, adminSide = receiver, sender
	}

	conv, err := s.store.FindConversation(userSide.ID, adminSide.ID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return storage.DBConversation{}, err
	}

	conv = storage.DBConversation{
		ID:        uuid.NewString(),
		UserID:    userSide.ID,
		AdminID:   adminSide.ID,
		CreatedAt: s.now().UnixNano(),
	}
	if err := s.store.UpsertConversation(conv); err != nil {
		return storage.DBConversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// StartConversation finds or creates the thread between the viewer and
// the chosen partner without sending a message.
func (s *Service) StartConversation(viewerID, partnerID string) (models.Conversation, error) {
	viewer, err := s.store.GetUser(viewerID)
	if err != nil {
		return models.Conversation{}, err
	}
	partner, err := s.store.GetUser(partnerID)
	if err != nil {
		return models.Conversation{}, err
	}

	conv, err := s.findOrCreateConversation(viewer, partner)
	if err != nil {
		return models.Conversation{}, err
	}
	return s.conversationDTO(conv, viewerID)
}

// Conversations returns the viewer's conversation list with the
// viewer-relative unread counter and flags.
func (s *Service) Conversations(viewerID string) ([]models.Conversation, error) {
	dbConvs, err := s.store.ListConversations(viewerID)
	if err != nil {
		return nil, err
	}

	conversations := make([]models.Conversation, 0, len(dbConvs))
	for _, conv := range dbConvs {
		dto, err := s.conversationDTO(conv, viewerID)
		if err != nil {
			slog.Error("skipping conversation with missing participant", "conversation_id", conv.ID, "error", err)
			continue
		}
		conversations = append(conversations, dto)
	}
	return conversations, nil
}

// MessagesPage returns one page of the conversation's history, newest
// first.
func (s *Service) MessagesPage(viewerID, conversationID string, page, size int) (models.MessagePage, error) {
	conv, err := s.participantConversation(viewerID, conversationID)
	if err != nil {
		return models.MessagePage{}, err
	}

	if size <= 0 || size > 100 {
		size = 50
	}
	if page < 0 {
		page = 0
	}

	dbMsgs, total, err := s.store.ListMessagesPage(conv.ID, page, size)
	if err != nil {
		return models.MessagePage{}, err
	}

	users := make(map[string]models.User)
	messages := make([]models.Message, 0, len(dbMsgs))
	for _, dbMsg := range dbMsgs {
		sender, err := s.lookupUser(users, dbMsg.SenderID)
		if err != nil {
			return models.MessagePage{}, err
		}
		receiver, err := s.lookupUser(users, dbMsg.ReceiverID)
		if err != nil {
			return models.MessagePage{}, err
		}
		messages = append(messages, s.messageDTO(dbMsg, sender, receiver))
	}

	return models.MessagePage{
		Content:       messages,
		Page:          page,
		Size:          size,
		TotalElements: total,
	}, nil
}

// MarkConversationRead flips the read flag on the messages addressed
// to the reader, zeroes their unread counter and emits a read receipt
// to the peer.
func (s *Service) MarkConversationRead(readerID, conversationID string) error {
	conv, err := s.participantConversation(readerID, conversationID)
	if err != nil {
		return err
	}

	if _, err := s.store.MarkMessagesRead(conv.ID, readerID, s.now().UnixNano()); err != nil {
		return err
	}

	if readerID == conv.UserID {
		conv.UnreadUser = 0
	} else {
		conv.UnreadAdmin = 0
	}
	if err := s.store.UpsertConversation(conv); err != nil {
		return err
	}

	peer := conv.UserID
	if readerID == conv.UserID {
		peer = conv.AdminID
	}
	if frame, err := models.NewFrame(models.ChannelReadReceipts, models.ReadReceipt{ConversationID: conv.ID}); err == nil {
		s.hub.SendTo(peer, frame)
	}
	return nil
}

// TogglePin flips the viewer's pin flag and returns the new value.
func (s *Service) TogglePin(viewerID, conversationID string) (bool, error) {
	conv, err := s.participantConversation(viewerID, conversationID)
	if err != nil {
		return false, err
	}

	var pinned bool
	if viewerID == conv.UserID {
		conv.PinnedUser = !conv.PinnedUser
		pinned = conv.PinnedUser
	} else {
		conv.PinnedAdmin = !conv.PinnedAdmin
		pinned = conv.PinnedAdmin
	}
	return pinned, s.store.UpsertConversation(conv)
}

// ToggleArchive flips the viewer's archive flag and returns the new value.
func (s *Service) ToggleArchive(viewerID, conversationID string) (bool, error) {
	conv, err := s.participantConversation(viewerID, conversationID)
	if err != nil {
		return false, err
	}

	var archived bool
	if viewerID == conv.UserID {
		conv.ArchivedUser = !conv.ArchivedUser
		archived = conv.ArchivedUser
	} else {
		conv.ArchivedAdmin = !conv.ArchivedAdmin
		archived = conv.ArchivedAdmin
	}
	return archived, s.store.UpsertConversation(conv)
}

// DeleteConversation removes the thread and its history.
func (s *Service) DeleteConversation(viewerID, conversationID string) error {
	conv, err := s.participantConversation(viewerID, conversationID)
	if err != nil {
		return err
	}
	return s.store.DeleteConversation(conv.ID)
}

// Partners lists the identities the viewer may start a conversation
// with: admins for customers, customers for admins.
func (s *Service) Partners(viewerID string) ([]models.ChatPartner, error) {
	viewer, err := s.store.GetUser(viewerID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}

	wantRole := models.RoleAdmin
	if viewer.Role == models.RoleAdmin {
		wantRole = models.RoleUser
	}

	partners := make([]models.ChatPartner, 0)
	for _, u := range users {
		if u.Role == wantRole && u.ID != viewerID {
			partners = append(partners, models.ChatPartner{ID: u.ID, Name: u.Name, Avatar: u.AvatarURL})
		}
	}
	return partners, nil
}

// HandleTyping relays a typing indicator to the conversation peer.
// Advisory: errors are logged, never surfaced.
func (s *Service) HandleTyping(userID, conversationID string, isTyping bool) {
	conv, err := s.participantConversation(userID, conversationID)
	if err != nil {
		slog.Debug("dropping typing indicator", "user_id", userID, "error", err)
		return
	}
	sender, err := s.store.GetUser(userID)
	if err != nil {
		return
	}

	indicator := models.TypingIndicator{
		ConversationID: conv.ID,
		UserID:         sender.ID,
		UserName:       sender.Name,
		IsTyping:       isTyping,
	}
	peer := conv.UserID
	if userID == conv.UserID {
		peer = conv.AdminID
	}
	if frame, err := models.NewFrame(models.ChannelTyping, indicator); err == nil {
		s.hub.SendTo(peer, frame)
	}
}

// HandleMarkRead is the fire-and-forget websocket variant of
// MarkConversationRead.
func (s *Service) HandleMarkRead(userID, conversationID string) {
	if err := s.MarkConversationRead(userID, conversationID); err != nil {
		slog.Debug("dropping mark-read publish", "user_id", userID, "error", err)
	}
}

// Notifications returns the user's notifications, newest first.
func (s *Service) Notifications(userID string) ([]models.Notification, error) {
	dbNs, err := s.store.ListNotifications(userID)
	if err != nil {
		return nil, err
	}
	notifications := make([]models.Notification, 0, len(dbNs))
	for _, dbN := range dbNs {
		notifications = append(notifications, notificationDTO(dbN))
	}
	return notifications, nil
}

func (s *Service) UnreadNotificationCount(userID string) (int, error) {
	return s.store.CountUnreadNotifications(userID)
}

func (s *Service) MarkNotificationRead(userID, notificationID string) error {
	return s.store.MarkNotificationRead(userID, notificationID)
}

func (s *Service) MarkAllNotificationsRead(userID string) error {
	return s.store.MarkAllNotificationsRead(userID)
}

// MarkChatNotificationsRead marks all unread chat notifications from
// the given sender name as read.
func (s *Service) MarkChatNotificationsRead(userID, senderName string) (int, error) {
	fragment := models.ChatNotificationTitlePrefix + content.Sanitize(senderName)
	return s.store.MarkChatNotificationsRead(userID, fragment)
}

func (s *Service) RegisterPushSubscription(userID string, sub models.PushSubscription) error {
	return s.store.UpsertPushSubscription(storage.DBPushSubscription{
		UserID:   userID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
	})
}

func (s *Service) participantConversation(viewerID, conversationID string) (storage.DBConversation, error) {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return storage.DBConversation{}, err
	}
	if conv.UserID != viewerID && conv.AdminID != viewerID {
		return storage.DBConversation{}, ErrNotParticipant
	}
	return conv, nil
}

func (s *Service) lookupUser(cache map[string]models.User, id string) (models.User, error) {
	if u, ok := cache[id]; ok {
		return u, nil
	}
	u, err := s.store.GetUser(id)
	if err != nil {
		return models.User{}, fmt.Errorf("unknown user %s: %w", id, err)
	}
	cache[id] = u
	return u, nil
}

func (s *Service) conversationDTO(conv storage.DBConversation, viewerID string) (models.Conversation, error) {
	user, err := s.store.GetUser(conv.UserID)
	if err != nil {
		return models.Conversation{}, err
	}
	admin, err := s.store.GetUser(conv.AdminID)
	if err != nil {
		return models.Conversation{}, err
	}

	dto := models.Conversation{
		ID:          conv.ID,
		UserID:      user.ID,
		UserName:    user.Name,
		UserAvatar:  user.AvatarURL,
		AdminID:     admin.ID,
		AdminName:   admin.Name,
		AdminAvatar: admin.AvatarURL,
		LastMessage: conv.LastMessage,
		CreatedAt:   time.Unix(0, conv.CreatedAt),
	}
	if conv.LastMessageAt > 0 {
		at := time.Unix(0, conv.LastMessageAt)
		dto.LastMessageAt = &at
	}
	if viewerID == conv.UserID {
		dto.UnreadCount = conv.UnreadUser
		dto.Pinned = conv.PinnedUser
		dto.Archived = conv.ArchivedUser
	} else {
		dto.UnreadCount = conv.UnreadAdmin
		dto.Pinned = conv.PinnedAdmin
		dto.Archived = conv.ArchivedAdmin
	}
	return dto, nil
}

func (s *Service) messageDTO(dbMsg storage.DBMessage, sender, receiver models.User) models.Message {
	msg := models.Message{
		ID:             dbMsg.ID,
		ConversationID: dbMsg.ConversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderAvatar:   sender.AvatarURL,
		ReceiverID:     receiver.ID,
		ReceiverName:   receiver.Name,
		Content:        dbMsg.Content,
		MediaURL:       dbMsg.MediaURL,
		MessageType:    models.MessageType(dbMsg.MessageType),
		Read:           dbMsg.Read,
		CreatedAt:      time.Unix(0, dbMsg.CreatedAt),
	}
	if msg.MessageType == models.MessageTypeText {
		msg.ContentHTML = content.RenderMarkdown(dbMsg.Content)
	}
	if dbMsg.ReadAt > 0 {
		at := time.Unix(0, dbMsg.ReadAt)
		msg.ReadAt = &at
	}
	return msg
}

func notificationDTO(dbN storage.DBNotification) models.Notification {
	return models.Notification{
		ID:        dbN.ID,
		Title:     dbN.Title,
		Message:   dbN.Message,
		Type:      models.NotificationType(dbN.Type),
		Read:      dbN.Read,
		Link:      dbN.Link,
		CreatedAt: time.Unix(0, dbN.CreatedAt),
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
