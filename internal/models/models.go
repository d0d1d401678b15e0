package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a participant identity: either a customer or an
// admin-side support agent.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	Role      Role       `json:"role"`
	Status    UserStatus `json:"status"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeVoice MessageType = "VOICE"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
)

// Message is a single chat message. TEXT messages carry Content,
// the other types carry MediaURL.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	SenderAvatar   string      `json:"senderAvatar,omitempty"`
	ReceiverID     string      `json:"receiverId"`
	ReceiverName   string      `json:"receiverName"`
	Content        string      `json:"content,omitempty"`
	ContentHTML    string      `json:"contentHtml,omitempty"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
	MessageType    MessageType `json:"messageType"`
	Read           bool        `json:"read"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Preview returns the conversation list preview for the message:
// the text itself for TEXT, a type tag placeholder otherwise.
func (m Message) Preview() string {
	if m.MessageType == MessageTypeText {
		return m.Content
	}
	return "[" + string(m.MessageType) + "]"
}

// Conversation is a two-party thread between a customer and an admin.
// UnreadCount, Pinned and Archived are the requesting viewer's values.
type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	UserName      string     `json:"userName"`
	UserAvatar    string     `json:"userAvatar,omitempty"`
	AdminID       string     `json:"adminId"`
	AdminName     string     `json:"adminName"`
	AdminAvatar   string     `json:"adminAvatar,omitempty"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount   int        `json:"unreadCount"`
	Pinned        bool       `json:"pinned"`
	Archived      bool       `json:"archived"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Peer returns the other participant's ID relative to selfID.
func (c Conversation) Peer(selfID string) string {
	if c.UserID == selfID {
		return c.AdminID
	}
	return c.UserID
}

type NotificationType string

const (
	NotificationTypeMessage   NotificationType = "MESSAGE"
	NotificationTypeSupport   NotificationType = "SUPPORT"
	NotificationTypePayment   NotificationType = "PAYMENT"
	NotificationTypeReview    NotificationType = "REVIEW"
	NotificationTypeAccount   NotificationType = "ACCOUNT"
	NotificationTypeBooking   NotificationType = "BOOKING"
	NotificationTypeChat      NotificationType = "CHAT"
	NotificationTypeCarUpdate NotificationType = "CAR_UPDATE"
)

// IsChat reports whether the notification announces a chat message and
// therefore participates in per-sender aggregation.
func (t NotificationType) IsChat() bool {
	return t == NotificationTypeChat || t == NotificationTypeMessage
}

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	Link      string           `json:"link,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ChatNotificationTitlePrefix is prepended to the sender name in the
// title of CHAT notifications. The client strips it to recover the
// sender key when aggregating.
const ChatNotificationTitlePrefix = "New Message from "

// TypingIndicator is ephemeral: it is relayed, never persisted.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadReceipt tells the sender that all their messages in the
// conversation were read by the peer.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
}

// Channel identifies one of the four logical per-user subscription
// topics carried over the websocket.
type Channel string

const (
	ChannelMessages      Channel = "messages"
	ChannelReadReceipts  Channel = "read-receipts"
	ChannelTyping        Channel = "typing"
	ChannelNotifications Channel = "notifications"
)

// Frame is the server-to-client wire envelope. Every inbound frame
// belongs to exactly one channel.
type Frame struct {
	Channel Channel         `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// NewFrame marshals payload into a tagged frame.
func NewFrame(channel Channel, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Channel: channel, Payload: data}, nil
}

type PublishType string

const (
	PublishTypeTyping   PublishType = "typing"
	PublishTypeMarkRead PublishType = "markRead"
)

// Publish is the client-to-server wire envelope for the two advisory
// fire-and-forget destinations.
type Publish struct {
	Type           PublishType `json:"type"`
	ConversationID string      `json:"conversationId"`
	IsTyping       bool        `json:"isTyping,omitempty"`
}

// SendMessageRequest is the REST body for sending a chat message.
type SendMessageRequest struct {
	ReceiverID  string      `json:"receiverId"`
	Content     string      `json:"content,omitempty"`
	MediaURL    string      `json:"mediaUrl,omitempty"`
	MessageType MessageType `json:"messageType"`
}

// MessagePage is one page of conversation history, newest first.
type MessagePage struct {
	Content       []Message `json:"content"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int       `json:"totalElements"`
}

// ChatPartner is an identity the caller may start a conversation with.
type ChatPartner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// PushKeys are the client key material of a web-push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a browser web-push subscription registered by a
// client that wants delivery while disconnected.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}
