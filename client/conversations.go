package client

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// conversationActions are the server calls the store issues for its
// mutations. Pin and archive report failure so the optimistic flip can
// be rolled back; the read signal is advisory and fire-and-forget.
type conversationActions interface {
	TogglePin(conversationID string) (bool, error)
	ToggleArchive(conversationID string) (bool, error)
	DeleteConversation(conversationID string) error
	SignalRead(conversationID string)
}

type convEntry struct {
	models.Conversation
	// touch is a monotonic sequence bumped on every activity. Two
	// conversations can share a lastMessageAt timestamp, so ordering
	// ties are broken by whoever was touched last.
	touch uint64
}

// ConversationStore is the client-side authoritative view of the
// conversation list: ordering, pin/archive state, unread counters and
// last-message previews.
type ConversationStore struct {
	api    conversationActions
	selfID string

	mu       sync.Mutex
	byID     map[string]*convEntry
	touchSeq uint64
	activeID string
}

func NewConversationStore(api conversationActions, selfID string) *ConversationStore {
	return &ConversationStore{
		api:    api,
		selfID: selfID,
		byID:   make(map[string]*convEntry),
	}
}

// Replace reloads the store from a server-fetched list. The slice is
// expected most-recent-first; touch sequences are assigned so the
// fetched order is reproduced exactly.
func (s *ConversationStore) Replace(conversations []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]*convEntry, len(conversations))
	for i := len(conversations) - 1; i >= 0; i-- {
		s.touchSeq++
		c := conversations[i]
		s.byID[c.ID] = &convEntry{Conversation: c, touch: s.touchSeq}
	}
}

// UpsertFromMessage projects an inbound or outbound message into the
// list: preview, ordering bump, and an unread increment when the
// conversation is not the active one and the message came from the
// peer.
func (s *ConversationStore) UpsertFromMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[msg.ConversationID]
	if !ok {
		entry = &convEntry{Conversation: models.Conversation{
			ID:        msg.ConversationID,
			CreatedAt: msg.CreatedAt,
		}}
		s.byID[msg.ConversationID] = entry
	}

	at := msg.CreatedAt
	entry.LastMessage = msg.Preview()
	entry.LastMessageAt = &at
	s.touchSeq++
	entry.touch = s.touchSeq

	if msg.ConversationID != s.activeID && msg.SenderID != s.selfID {
		entry.UnreadCount++
	}
}

// SetActive marks the conversation open in the UI. Inbound messages
// for it no longer count as unread.
func (s *ConversationStore) SetActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = conversationID
}

func (s *ConversationStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// MarkRead zeroes the unread counter and signals the server. The local
// update is optimistic and deliberately not rolled back: the counter
// converges on the next list fetch, and an unread badge that lingers
// after the user opened the thread is worse than one cleared early.
func (s *ConversationStore) MarkRead(conversationID string) {
	s.mu.Lock()
	if entry, ok := s.byID[conversationID]; ok {
		entry.UnreadCount = 0
	}
	s.mu.Unlock()

	s.api.SignalRead(conversationID)
}

// SetPinned toggles the pin flag optimistically and rolls back if the
// server rejects the toggle.
func (s *ConversationStore) SetPinned(conversationID string) (bool, error) {
	s.mu.Lock()
	entry, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return false, models.ErrNotFound
	}
	entry.Pinned = !entry.Pinned
	want := entry.Pinned
	s.mu.Unlock()

	got, err := s.api.TogglePin(conversationID)
	if err != nil {
		s.mu.Lock()
		entry.Pinned = !want
		s.mu.Unlock()
		return !want, err
	}

	s.mu.Lock()
	entry.Pinned = got
	s.mu.Unlock()
	return got, nil
}

// SetArchived toggles the archive flag optimistically and rolls back
// if the server rejects the toggle.
func (s *ConversationStore) SetArchived(conversationID string) (bool, error) {
	s.mu.Lock()
	entry, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return false, models.ErrNotFound
	}
	entry.Archived = !entry.Archived
	want := entry.Archived
	s.mu.Unlock()

	got, err := s.api.ToggleArchive(conversationID)
	if err != nil {
		s.mu.Lock()
		entry.Archived = !want
		s.mu.Unlock()
		return !want, err
	}

	s.mu.Lock()
	entry.Archived = got
	s.mu.Unlock()
	return got, nil
}

// Delete removes the conversation after the server confirms. If it was
// the active conversation the selection is cleared.
func (s *ConversationStore) Delete(conversationID string) error {
	if err := s.api.DeleteConversation(conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, conversationID)
	if s.activeID == conversationID {
		s.activeID = ""
	}
	return nil
}

// List returns the ordered conversation list: pinned unarchived first,
// then unarchived, then archived, each partition most recent activity
// first.
func (s *ConversationStore) List() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*convEntry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if pa, pb := partition(a), partition(b); pa != pb {
			return pa < pb
		}
		at, bt := lastActivity(a), lastActivity(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.touch > b.touch
	})

	out := make([]models.Conversation, len(entries))
	for i, e := range entries {
		out[i] = e.Conversation
	}
	return out
}

// Search projects the current list down to conversations whose peer
// name or last message contains the query, case-insensitively.
// Computed on read, never cached.
func (s *ConversationStore) Search(query string) []models.Conversation {
	query = strings.ToLower(strings.TrimSpace(query))
	list := s.List()
	if query == "" {
		return list
	}

	out := make([]models.Conversation, 0, len(list))
	for _, c := range list {
		peerName := c.AdminName
		if c.UserID != s.selfID {
			peerName = c.UserName
		}
		if strings.Contains(strings.ToLower(peerName), query) ||
			strings.Contains(strings.ToLower(c.LastMessage), query) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns a snapshot of one conversation.
func (s *ConversationStore) Get(conversationID string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return entry.Conversation, true
}

func partition(e *convEntry) int {
	switch {
	case e.Archived:
		return 2
	case e.Pinned:
		return 0
	default:
		return 1
	}
}

func lastActivity(e *convEntry) time.Time {
	if e.LastMessageAt != nil {
		return *e.LastMessageAt
	}
	return e.CreatedAt
}
