package client

import (
	"sync"
	"time"
)

const (
	typingDebounce = 300 * time.Millisecond
	typingIdleStop = 2 * time.Second
)

// TypingNotifier turns raw input activity into at most one typing=true
// emission per burst and exactly one typing=false after the burst goes
// quiet. Keystroke rate never reaches the wire.
type TypingNotifier struct {
	publish  func(conversationID string, isTyping bool)
	debounce time.Duration
	idle     time.Duration

	mu             sync.Mutex
	conversationID string
	active         bool
	debounceTimer  *time.Timer
	idleTimer      *time.Timer
}

func NewTypingNotifier(publish func(conversationID string, isTyping bool)) *TypingNotifier {
	return &TypingNotifier{
		publish:  publish,
		debounce: typingDebounce,
		idle:     typingIdleStop,
	}
}

// InputActivity records one unit of input (a keystroke) in the given
// conversation. Switching conversations mid-burst stops the old one
// first.
func (t *TypingNotifier) InputActivity(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conversationID != conversationID {
		t.stopLocked()
		t.conversationID = conversationID
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idle, func() { t.Stop(conversationID) })

	if t.active || t.debounceTimer != nil {
		return
	}
	t.debounceTimer = time.AfterFunc(t.debounce, func() { t.fire(conversationID) })
}

func (t *TypingNotifier) fire(conversationID string) {
	t.mu.Lock()
	t.debounceTimer = nil
	if t.conversationID != conversationID {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.mu.Unlock()

	t.publish(conversationID, true)
}

// Stop emits the stopped-typing frame if a burst is active. Called on
// idle timeout, on message send, and on conversation switch.
func (t *TypingNotifier) Stop(conversationID string) {
	t.mu.Lock()
	if t.conversationID != conversationID {
		t.mu.Unlock()
		return
	}
	wasActive := t.stopTimersLocked()
	t.mu.Unlock()

	if wasActive {
		t.publish(conversationID, false)
	}
}

// Close cancels timers without emitting anything. Used on teardown
// when the connection is going away anyway.
func (t *TypingNotifier) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimersLocked()
}

func (t *TypingNotifier) stopLocked() {
	if t.stopTimersLocked() && t.conversationID != "" {
		// Emitting under the lock is safe: publish is a channel send
		// or websocket write, never a re-entrant call.
		t.publish(t.conversationID, false)
	}
}

func (t *TypingNotifier) stopTimersLocked() bool {
	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
		t.debounceTimer = nil
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	wasActive := t.active
	t.active = false
	return wasActive
}
