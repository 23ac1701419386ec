// Package chat provides the append-only conversation log for a session.
package chat

import (
	"sync"

	"github.com/ashureev/csirt-labs/internal/domain"
)

// DefaultWindow is how many recent messages the assistant is given.
const DefaultWindow = 10

// History is an ordered, append-only list of messages.
// It is safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a message to the end of the history.
func (h *History) Append(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Last returns the most recent message and false if the history is empty.
func (h *History) Last() (domain.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return domain.Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// All returns a copy of every message in insertion order.
func (h *History) All() []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Recent returns a copy of the last n messages, or all of them when fewer exist.
func (h *History) Recent(n int) []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := 0
	if len(h.messages) > n {
		start = len(h.messages) - n
	}
	out := make([]domain.Message, len(h.messages)-start)
	copy(out, h.messages[start:])
	return out
}
