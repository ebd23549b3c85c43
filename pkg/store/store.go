package store

import "ragchat/pkg/domain"

// Store defines persistence for users, chats, messages, and collections.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// chats
	SaveChat(domain.Chat) error
	GetChat(id string) (domain.Chat, bool, error)
	ListChatsByUser(userID string) ([]domain.Chat, error)
	SetChatTitle(id, title string) error
	DeleteChat(id string) error

	// messages
	AppendMessage(chatID string, msg domain.Message) error
	ListMessages(chatID string) ([]domain.Message, error)
	CountMessages(chatID string) (int, error)

	// collections
	SaveCollection(domain.Collection, []domain.Chunk) error
	GetCollectionByName(name string) (domain.Collection, bool, error)
	SearchChunks(collectionName string, embedding []float32, limit int) ([]domain.Chunk, error)
}

// SessionStore issues and resolves bearer tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
