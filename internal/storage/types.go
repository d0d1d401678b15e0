package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBToken struct {
	UserID string `msgpack:"userId"`
	Token  string `msgpack:"token"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Token)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBUser struct {
	ID           string `msgpack:"id"`
	Email        string `msgpack:"email"`
	Name         string `msgpack:"name"`
	AvatarURL    string `msgpack:"avatarUrl"`
	Role         string `msgpack:"role"`
	Status       string `msgpack:"status"`
	PasswordHash string `msgpack:"passwordHash"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

// DBConversation keeps both sides' viewer state (unread counter and
// pin/archive flags) so either participant sees their own view.
type DBConversation struct {
	ID            string `msgpack:"id"`
	UserID        string `msgpack:"userId"`
	AdminID       string `msgpack:"adminId"`
	LastMessage   string `msgpack:"lastMessage"`
	LastMessageAt int64  `msgpack:"lastMessageAt"` // Unix nanoseconds, 0 if none
	UnreadUser    int    `msgpack:"unreadUser"`
	UnreadAdmin   int    `msgpack:"unreadAdmin"`
	PinnedUser    bool   `msgpack:"pinnedUser"`
	PinnedAdmin   bool   `msgpack:"pinnedAdmin"`
	ArchivedUser  bool   `msgpack:"archivedUser"`
	ArchivedAdmin bool   `msgpack:"archivedAdmin"`
	CreatedAt     int64  `msgpack:"createdAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq            uint64 `msgpack:"seq"`
	ID             string `msgpack:"id"`
	ConversationID string `msgpack:"conversationId"`
	SenderID       string `msgpack:"senderId"`
	ReceiverID     string `msgpack:"receiverId"`
	Content        string `msgpack:"content"`
	MediaURL       string `msgpack:"mediaUrl"`
	MessageType    string `msgpack:"messageType"`
	Read           bool   `msgpack:"read"`
	ReadAt         int64  `msgpack:"readAt"`
	CreatedAt      int64  `msgpack:"createdAt"` // Unix nanoseconds
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBNotification struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	UserID    string `msgpack:"userId"`
	Title     string `msgpack:"title"`
	Message   string `msgpack:"message"`
	Type      string `msgpack:"type"`
	Read      bool   `msgpack:"read"`
	Link      string `msgpack:"link"`
	CreatedAt int64  `msgpack:"createdAt"` // Unix nanoseconds
}

func (n *DBNotification) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n.Seq)
	return key
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}
