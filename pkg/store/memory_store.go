package store

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"ragchat/pkg/domain"
)

// MemoryStore keeps everything in-process. Used in tests and for running
// without Postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	email       map[string]string // email -> user ID
	chats       map[string]domain.Chat
	chatOrder   []string
	messages    map[string][]domain.Message // chat ID -> messages
	collections map[string]domain.Collection
	chunks      map[string][]domain.Chunk // collection name -> chunks
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		email:       make(map[string]string),
		chats:       make(map[string]domain.Chat),
		messages:    make(map[string][]domain.Message),
		collections: make(map[string]domain.Collection),
		chunks:      make(map[string][]domain.Chunk),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveChat stores or replaces a chat and tracks insertion order.
func (m *MemoryStore) SaveChat(c domain.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chats[c.ID]; !exists {
		m.chatOrder = append(m.chatOrder, c.ID)
	}
	m.chats[c.ID] = c
	return nil
}

// GetChat retrieves a chat by ID.
func (m *MemoryStore) GetChat(id string) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	return c, ok, nil
}

// ListChatsByUser returns chats in insertion order.
func (m *MemoryStore) ListChatsByUser(userID string) ([]domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chat, 0, len(m.chatOrder))
	for _, id := range m.chatOrder {
		if c, ok := m.chats[id]; ok && c.UserID == userID {
			res = append(res, c)
		}
	}
	return res, nil
}

// SetChatTitle updates the title of a chat.
func (m *MemoryStore) SetChatTitle(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return fmt.Errorf("chat %s not found", id)
	}
	c.Title = title
	m.chats[id] = c
	return nil
}

// DeleteChat removes a chat and its messages.
func (m *MemoryStore) DeleteChat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, id)
	delete(m.messages, id)
	filtered := m.chatOrder[:0]
	for _, item := range m.chatOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.chatOrder = filtered
	return nil
}

// AppendMessage records a message linked to a chat.
func (m *MemoryStore) AppendMessage(chatID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ChatID = chatID
	m.messages[chatID] = append(m.messages[chatID], msg)
	return nil
}

// ListMessages returns messages in append order.
func (m *MemoryStore) ListMessages(chatID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[chatID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// CountMessages returns the number of messages in a chat.
func (m *MemoryStore) CountMessages(chatID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[chatID]), nil
}

// SaveCollection persists a collection and its chunks.
func (m *MemoryStore) SaveCollection(c domain.Collection, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.collections[c.Name]; exists {
		return fmt.Errorf("collection %s already exists", c.Name)
	}
	m.collections[c.Name] = c
	stored := make([]domain.Chunk, len(chunks))
	copy(stored, chunks)
	for i := range stored {
		stored[i].Collection = c.Name
	}
	m.chunks[c.Name] = stored
	return nil
}

// GetCollectionByName looks up a collection.
func (m *MemoryStore) GetCollectionByName(name string) (domain.Collection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	return c, ok, nil
}

// SearchChunks ranks chunks by cosine distance to the query embedding.
func (m *MemoryStore) SearchChunks(collectionName string, embedding []float32, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.chunks[collectionName]
	type scored struct {
		chunk domain.Chunk
		dist  float64
	}
	ranked := make([]scored, 0, len(stored))
	for _, chunk := range stored {
		if len(chunk.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{chunk: chunk, dist: cosineDistance(embedding, chunk.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	res := make([]domain.Chunk, 0, len(ranked))
	for _, item := range ranked {
		res = append(res, item.chunk)
	}
	return res, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
