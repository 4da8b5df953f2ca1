// Package selection holds the dashboard's active configuration choice.
package selection

import "sync"

// Selection identifies what new streams run against.
type Selection struct {
	ConfigID       string `json:"config_id"`
	ConversationID string `json:"conversation_id"`
}

// State is a narrowly scoped, concurrency-safe selection container.
// Sessions copy it once when they start and never observe later changes.
type State struct {
	mu  sync.RWMutex
	cur Selection
}

// New returns a state holding initial.
func New(initial Selection) *State {
	return &State{cur: initial}
}

// Get returns a copy of the current selection.
func (s *State) Get() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set replaces the selection.
func (s *State) Set(sel Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = sel
}

// EnsureConversation returns the conversation id, storing the result of
// newID first when none is set. newID runs under the lock, so concurrent
// callers create at most one conversation. A failed newID leaves the
// selection unchanged.
func (s *State) EnsureConversation(newID func() (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.ConversationID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		s.cur.ConversationID = id
	}
	return s.cur.ConversationID, nil
}
