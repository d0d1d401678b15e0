package client

import (
	"errors"
	"sync"
	"time"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// continuationGap is the largest pause between two messages from the
// same sender that still renders as one visual block.
const continuationGap = 5 * time.Minute

// ErrSendInFlight is returned when a send is attempted before the
// previous one in the same conversation finished its round trip.
var ErrSendInFlight = errors.New("a send is already in flight")

type messageSender interface {
	SendMessage(req models.SendMessageRequest) (models.Message, error)
}

// Stream reconciles the active conversation's message sequence:
// locally sent, server confirmed, and stream echoed representations
// merge into one ordered list with at most one entry per message id.
type Stream struct {
	conversationID string
	selfID         string
	api            messageSender
	now            func() time.Time

	// background receives messages for other conversations so they
	// can be counted unread without touching the active sequence.
	background func(models.Message)

	mu       sync.Mutex
	messages []models.Message
	ids      map[string]struct{}
	sending  bool
}

func NewStream(conversationID, selfID string, api messageSender, background func(models.Message)) *Stream {
	return &Stream{
		conversationID: conversationID,
		selfID:         selfID,
		api:            api,
		now:            time.Now,
		background:     background,
		ids:            make(map[string]struct{}),
	}
}

func (s *Stream) ConversationID() string {
	return s.conversationID
}

// Load seeds the sequence from a fetched history page, oldest first.
func (s *Stream) Load(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.ids = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if m.ID != "" {
			if _, dup := s.ids[m.ID]; dup {
				continue
			}
			s.ids[m.ID] = struct{}{}
		}
		s.messages = append(s.messages, m)
	}
}

// Send appends a provisional entry immediately and sends the request.
// Re-entrancy is blocked until the round trip completes: a second Send
// while one is in flight fails with ErrSendInFlight. On success the
// server's representation replaces the provisional one; on failure the
// provisional entry is removed.
func (s *Stream) Send(req models.SendMessageRequest) (models.Message, error) {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return models.Message{}, ErrSendInFlight
	}
	s.sending = true

	provisional := models.Message{
		ConversationID: s.conversationID,
		SenderID:       s.selfID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		MessageType:    req.MessageType,
		CreatedAt:      s.now(),
	}
	s.messages = append(s.messages, provisional)
	s.mu.Unlock()

	confirmed, err := s.api.SendMessage(req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	s.dropLastProvisional()

	if err != nil {
		return models.Message{}, err
	}

	// The stream echo may have arrived during the round trip; the
	// confirmed id is appended at most once either way.
	if confirmed.ConversationID == s.conversationID {
		s.appendLocked(confirmed)
	}
	return confirmed, nil
}

// HandleInbound merges a streamed message frame. Frames for other
// conversations never touch the sequence; they are routed to the
// background handler instead. Duplicate ids are discarded.
func (s *Stream) HandleInbound(msg models.Message) {
	if msg.ConversationID != s.conversationID {
		if s.background != nil {
			s.background(msg)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(msg)
}

// ApplyReceipt flips every own message to read. The transition is
// monotonic: nothing ever goes back to unread.
func (s *Stream) ApplyReceipt(receipt models.ReadReceipt) {
	if receipt.ConversationID != s.conversationID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].SenderID == s.selfID && !s.messages[i].Read {
			s.messages[i].Read = true
		}
	}
}

// Messages returns a snapshot of the ordered sequence.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Stream) appendLocked(msg models.Message) {
	if msg.ID != "" {
		if _, dup := s.ids[msg.ID]; dup {
			return
		}
		s.ids[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
}

// dropLastProvisional removes the most recent entry without a server
// id, which is the provisional appended by Send.
func (s *Stream) dropLastProvisional() {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == "" {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// Continuations derives the visual grouping flags for a rendered
// sequence: true marks a message that continues the previous sender's
// block within the continuation gap. Pure function of the sequence,
// recomputed per render.
func Continuations(messages []models.Message) []bool {
	flags := make([]bool, len(messages))
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		flags[i] = cur.SenderID == prev.SenderID &&
			cur.CreatedAt.Sub(prev.CreatedAt) < continuationGap
	}
	return flags
}
