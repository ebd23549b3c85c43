package domain

import "time"

// ChatType tags what kind of context a chat is grounded on.
type ChatType string

const (
	ChatNormal  ChatType = "normal_chat"
	ChatYouTube ChatType = "yt_chat"
	ChatPDF     ChatType = "pdf_chat"
	ChatWeb     ChatType = "web_chat"
	ChatGit     ChatType = "git_chat"
)

// IsRetrieval reports whether the chat type answers from an ingested
// document collection rather than from conversation memory.
func (t ChatType) IsRetrieval() bool {
	switch t {
	case ChatYouTube, ChatPDF, ChatWeb, ChatGit:
		return true
	}
	return false
}

// Valid reports whether the tag is one of the known chat types.
func (t ChatType) Valid() bool {
	return t == ChatNormal || t.IsRetrieval()
}

// frontendTypes maps the display names clients send to backend tags.
var frontendTypes = map[string]ChatType{
	"Normal":  ChatNormal,
	"YouTube": ChatYouTube,
	"PDF":     ChatPDF,
	"Web":     ChatWeb,
	"Git":     ChatGit,
}

// ChatTypeFromFrontend resolves a client display name ("Normal", "YouTube",
// "PDF", "Web", "Git") or an already-canonical tag to a ChatType.
func ChatTypeFromFrontend(name string) (ChatType, bool) {
	if t, ok := frontendTypes[name]; ok {
		return t, true
	}
	t := ChatType(name)
	return t, t.Valid()
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Chat struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Type       ChatType  `json:"type"`
	Collection string    `json:"collection,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is a single turn in conversation memory or a model request.
// Roles are "system", "user", "assistant".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Collection is a named set of embedded chunks. Immutable once created.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Chunk struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"createdAt"`
}
