package memory

import (
	"context"
	"sync"

	"ragchat/pkg/domain"
)

// Store holds per-user conversation history for plain chat turns.
// History is non-durable working memory, not the message archive.
type Store interface {
	History(ctx context.Context, userID string) ([]domain.ChatMessage, error)
	Append(ctx context.Context, userID string, msgs ...domain.ChatMessage) error
	Clear(ctx context.Context, userID string) error
}

// InProcStore keeps conversation history in a process-local map.
// Entries live for the process lifetime; there is no TTL.
type InProcStore struct {
	mu      sync.RWMutex
	entries map[string][]domain.ChatMessage
}

// NewInProcStore initializes an empty in-process store.
func NewInProcStore() *InProcStore {
	return &InProcStore{
		entries: make(map[string][]domain.ChatMessage),
	}
}

// History returns a copy of the user's conversation history.
func (s *InProcStore) History(_ context.Context, userID string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.entries[userID]
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append adds turns to the user's history.
func (s *InProcStore) Append(_ context.Context, userID string, msgs ...domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = append(s.entries[userID], msgs...)
	return nil
}

// Clear drops the user's history.
func (s *InProcStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}
