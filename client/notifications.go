package client

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ltmoamin/RentalCar/internal/models"
)

const bellViewLimit = 5

// notificationActions are the server calls behind read-state changes.
type notificationActions interface {
	MarkNotificationRead(id string) error
	MarkSenderNotificationsRead(sender string) error
	MarkAllNotificationsRead() error
}

// NotificationEntry is one row of the grouped display list: either a
// single notification passed through unmodified, or an aggregate of
// several chat notifications from the same sender.
type NotificationEntry struct {
	models.Notification
	// Count is the number of raw notifications behind this entry.
	// Entries with Count == 1 are originals, not aggregates.
	Count  int    `json:"count"`
	Sender string `json:"sender,omitempty"`

	memberIDs []string
}

// IsGroup reports whether the entry was synthesized from multiple
// notifications.
func (e NotificationEntry) IsGroup() bool {
	return e.Count > 1
}

// Flatten expands the entry back into raw notifications carrying the
// entry's read state. Regrouping the flattened output reproduces the
// entry, which is what makes aggregation safe to rerun.
func (e NotificationEntry) Flatten() []models.Notification {
	if !e.IsGroup() {
		return []models.Notification{e.Notification}
	}

	out := make([]models.Notification, len(e.memberIDs))
	for i, id := range e.memberIDs {
		out[i] = models.Notification{
			ID:        id,
			Title:     models.ChatNotificationTitlePrefix + e.Sender,
			Message:   e.Message,
			Type:      models.NotificationTypeChat,
			Read:      e.Read,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}

// NotificationFeed holds the raw notification working set, the grouped
// display projection, and the unread counter. The counter is tracked
// independently of the list so it stays correct while the list is only
// partially loaded, and is reconciled against the server count on cold
// start.
type NotificationFeed struct {
	api notificationActions

	mu     sync.Mutex
	items  []models.Notification
	index  map[string]int
	unread int
}

func NewNotificationFeed(api notificationActions) *NotificationFeed {
	return &NotificationFeed{
		api:   api,
		index: make(map[string]int),
	}
}

// Ingest merges a fetched batch into the working set. Known ids are
// updated in place, new ones appended. The unread counter is not
// touched here; use SetUnreadCount to reconcile it.
func (f *NotificationFeed) Ingest(notifications []models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range notifications {
		if i, ok := f.index[n.ID]; ok {
			f.items[i] = n
			continue
		}
		f.index[n.ID] = len(f.items)
		f.items = append(f.items, n)
	}
}

// Push ingests a single streamed notification and counts it unread.
func (f *NotificationFeed) Push(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i, ok := f.index[n.ID]; ok {
		f.items[i] = n
		return
	}
	f.index[n.ID] = len(f.items)
	f.items = append(f.items, n)
	f.unread++
}

// UnreadCount returns the independent unread counter.
func (f *NotificationFeed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// SetUnreadCount overwrites the counter with a server-reported value.
func (f *NotificationFeed) SetUnreadCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 {
		n = 0
	}
	f.unread = n
}

// Grouped computes the full display list: chat notifications collapsed
// per (sender, read state), everything else passed through, all sorted
// newest first.
func (f *NotificationFeed) Grouped() []NotificationEntry {
	f.mu.Lock()
	items := make([]models.Notification, len(f.items))
	copy(items, f.items)
	f.mu.Unlock()

	return groupNotifications(items)
}

// BellView is the summary dropdown projection: the 5 most recent
// grouped entries.
func (f *NotificationFeed) BellView() []NotificationEntry {
	grouped := f.Grouped()
	if len(grouped) > bellViewLimit {
		grouped = grouped[:bellViewLimit]
	}
	return grouped
}

type chatGroup struct {
	sender  string
	read    bool
	members []models.Notification
}

func groupNotifications(items []models.Notification) []NotificationEntry {
	var (
		groups     []*chatGroup
		groupIndex = make(map[string]*chatGroup)
		entries    []NotificationEntry
	)

	for _, n := range items {
		if !n.Type.IsChat() {
			entries = append(entries, NotificationEntry{Notification: n, Count: 1})
			continue
		}

		sender := strings.TrimPrefix(n.Title, models.ChatNotificationTitlePrefix)
		key := fmt.Sprintf("%s|%t", sender, n.Read)
		g, ok := groupIndex[key]
		if !ok {
			g = &chatGroup{sender: sender, read: n.Read}
			groupIndex[key] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, n)
	}

	for _, g := range groups {
		if len(g.members) == 1 {
			entries = append(entries, NotificationEntry{Notification: g.members[0], Count: 1})
			continue
		}
		entries = append(entries, synthesize(g))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}

func synthesize(g *chatGroup) NotificationEntry {
	latest := g.members[0]
	ids := make([]string, len(g.members))
	for i, m := range g.members {
		ids[i] = m.ID
		if m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}

	title := fmt.Sprintf("%d messages from %s", len(g.members), g.sender)
	message := "View conversation history"
	if !g.read {
		title = fmt.Sprintf("%d new messages from %s", len(g.members), g.sender)
		message = "Tap to view new messages"
	}

	return NotificationEntry{
		Notification: models.Notification{
			ID:        latest.ID,
			Title:     title,
			Message:   message,
			Type:      models.NotificationTypeChat,
			Read:      g.read,
			Link:      latest.Link,
			CreatedAt: latest.CreatedAt,
		},
		Count:     len(g.members),
		Sender:    g.sender,
		memberIDs: ids,
	}
}

// MarkRead flips the entry to read. Aggregates mark every notification
// from the sender, singles mark just the one id. Both are optimistic
// and roll back to unread if the server rejects the change.
func (f *NotificationFeed) MarkRead(entry NotificationEntry) error {
	if entry.IsGroup() {
		return f.markGroupRead(entry)
	}
	return f.markSingleRead(entry.ID)
}

func (f *NotificationFeed) markSingleRead(id string) error {
	flipped := f.setRead([]string{id}, true)
	if flipped == 0 {
		return nil
	}

	if err := f.api.MarkNotificationRead(id); err != nil {
		f.setRead([]string{id}, false)
		return err
	}

	f.decrementUnread(1)
	return nil
}

func (f *NotificationFeed) markGroupRead(entry NotificationEntry) error {
	flippedIDs := f.setReadIDs(entry.memberIDs)
	if len(flippedIDs) == 0 {
		return nil
	}

	if err := f.api.MarkSenderNotificationsRead(entry.Sender); err != nil {
		f.setRead(flippedIDs, false)
		return err
	}

	f.decrementUnread(len(flippedIDs))
	return nil
}

// MarkAllRead flips everything and zeroes the counter, then issues one
// bulk server action. The bulk action is best effort: a failure is
// logged and the local state kept, unlike single-item marking which
// rolls back.
func (f *NotificationFeed) MarkAllRead() {
	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.unread = 0
	f.mu.Unlock()

	if err := f.api.MarkAllNotificationsRead(); err != nil {
		slog.Debug("mark all notifications read failed", "error", err)
	}
}

func (f *NotificationFeed) setRead(ids []string, read bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	flipped := 0
	for _, id := range ids {
		if i, ok := f.index[id]; ok && f.items[i].Read != read {
			f.items[i].Read = read
			flipped++
		}
	}
	return flipped
}

func (f *NotificationFeed) setReadIDs(ids []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var flipped []string
	for _, id := range ids {
		if i, ok := f.index[id]; ok && !f.items[i].Read {
			f.items[i].Read = true
			flipped = append(flipped, id)
		}
	}
	return flipped
}

func (f *NotificationFeed) decrementUnread(by int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread -= by
	if f.unread < 0 {
		f.unread = 0
	}
}
