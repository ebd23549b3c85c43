package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ragchat/internal/ingest"
	"ragchat/internal/memory"
	"ragchat/internal/util"
	"ragchat/pkg/ai"
	"ragchat/pkg/auth"
	"ragchat/pkg/domain"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
)

const (
	defaultTitleWait  = 10 * time.Second
	defaultRetrievalK = 5
)

// Config wires the application's collaborators. Store, Sessions, and
// Memory are required; everything else may be nil, leaving the matching
// feature degraded until configured.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Memory   memory.Store

	Generator      ai.StreamGenerator
	TitleGenerator ai.TextGenerator
	Vectors        *vectorstore.Gateway

	YouTube *ingest.YouTubeClient
	Web     *ingest.WebFetcher
	GitHub  *ingest.GitHubClient
	Archive storage.ObjectStore

	// TitleWait bounds how long a finished stream waits for the
	// concurrent title task before falling back.
	TitleWait  time.Duration
	RetrievalK int
}

// App implements the chat backend's core operations.
type App struct {
	cfg Config
}

// New validates required collaborators and builds the App.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Memory == nil {
		return nil, errors.New("memory store is required")
	}
	if cfg.TitleWait <= 0 {
		cfg.TitleWait = defaultTitleWait
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = defaultRetrievalK
	}
	return &App{cfg: cfg}, nil
}

// SignUp registers a new user and opens a session.
func (a *App) SignUp(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") || len(email) < 3 {
		return domain.User{}, "", ErrInvalidEmail
	}
	if len(password) < 8 {
		return domain.User{}, "", ErrWeakPassword
	}
	exists, err := a.cfg.Store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.cfg.Store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.cfg.Sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("new session: %w", err)
	}
	return user, token, nil
}

// SignIn verifies credentials and opens a session.
func (a *App) SignIn(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, ok, err := a.cfg.Store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("get user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.cfg.Sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("new session: %w", err)
	}
	return user, token, nil
}

// SignOut revokes the presented session token.
func (a *App) SignOut(ctx context.Context, token string) error {
	return a.cfg.Sessions.DeleteSession(token)
}

// UserFromToken resolves a bearer token to its user.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.cfg.Sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve token: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidToken
	}
	user, ok, err := a.cfg.Store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidToken
	}
	return user, nil
}

// CreateChat opens a chat of the given type. typeName accepts both
// frontend display names and canonical tags. Retrieval chats may carry
// the collection produced by a prior ingestion call.
func (a *App) CreateChat(ctx context.Context, userID, typeName, collection string) (domain.Chat, error) {
	chatType, ok := domain.ChatTypeFromFrontend(strings.TrimSpace(typeName))
	if !ok {
		return domain.Chat{}, ErrInvalidChatType
	}
	collection = strings.TrimSpace(collection)
	if collection != "" {
		if _, found, err := a.cfg.Store.GetCollectionByName(collection); err != nil {
			return domain.Chat{}, fmt.Errorf("get collection: %w", err)
		} else if !found {
			return domain.Chat{}, ErrCollectionNotFound
		}
	}
	chat := domain.Chat{
		ID:         util.NewID(),
		UserID:     userID,
		Title:      defaultChatTitle,
		Type:       chatType,
		Collection: collection,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.cfg.Store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// ListChats returns the user's chats.
func (a *App) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	return a.cfg.Store.ListChatsByUser(userID)
}

// ChatMessages returns a chat's transcript. Chats owned by other users
// resolve to not-found.
func (a *App) ChatMessages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	if _, err := a.ownedChat(userID, chatID); err != nil {
		return nil, err
	}
	return a.cfg.Store.ListMessages(chatID)
}

// DeleteChat removes a chat and its messages. Deleting a plain chat
// also clears the user's conversation memory, since that history only
// exists to serve plain turns.
func (a *App) DeleteChat(ctx context.Context, userID, chatID string) error {
	chat, err := a.ownedChat(userID, chatID)
	if err != nil {
		return err
	}
	if err := a.cfg.Store.DeleteChat(chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if chat.Type == domain.ChatNormal {
		if err := a.cfg.Memory.Clear(ctx, userID); err != nil {
			slog.Warn("clear conversation memory failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (a *App) ownedChat(userID, chatID string) (domain.Chat, error) {
	chat, ok, err := a.cfg.Store.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	if !ok || chat.UserID != userID {
		return domain.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

// IngestYouTube fetches a video transcript and indexes it as a new
// collection, returning the collection name.
func (a *App) IngestYouTube(ctx context.Context, userID, videoURL string) (string, error) {
	if a.cfg.YouTube == nil {
		return "", ErrNotConfigured
	}
	transcript, err := a.cfg.YouTube.Transcript(ctx, videoURL)
	if err != nil {
		return "", err
	}
	return a.indexDocument(ctx, userID, transcript, map[string]string{
		"source": "youtube",
		"url":    videoURL,
	})
}

// IngestWeb fetches a page and indexes its text as a new collection.
func (a *App) IngestWeb(ctx context.Context, userID, pageURL string) (string, error) {
	if a.cfg.Web == nil {
		return "", ErrNotConfigured
	}
	text, err := a.cfg.Web.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return a.indexDocument(ctx, userID, text, map[string]string{
		"source": "web",
		"url":    pageURL,
	})
}

// IngestGit downloads a repository's text files and indexes them as a
// new collection.
func (a *App) IngestGit(ctx context.Context, userID, repoURL string) (string, error) {
	if a.cfg.GitHub == nil {
		return "", ErrNotConfigured
	}
	text, err := a.cfg.GitHub.FetchRepo(ctx, repoURL)
	if err != nil {
		return "", err
	}
	return a.indexDocument(ctx, userID, text, map[string]string{
		"source": "git",
		"url":    repoURL,
	})
}

// IngestPDF extracts text from an uploaded PDF and indexes it as a new
// collection. The original upload is archived to object storage when
// configured; archive failures do not fail the ingestion.
func (a *App) IngestPDF(ctx context.Context, userID, filename string, file io.Reader, size int64) (string, error) {
	tmp, err := os.CreateTemp("", "ragchat-upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := io.Copy(tmp, file); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}

	text, err := ingest.ExtractPDF(tmp.Name())
	if err != nil {
		return "", err
	}
	name, err := a.indexDocument(ctx, userID, text, map[string]string{
		"source":   "pdf",
		"filename": filename,
	})
	if err != nil {
		return "", err
	}

	if a.cfg.Archive != nil {
		if _, err := tmp.Seek(0, io.SeekStart); err == nil {
			key := fmt.Sprintf("uploads/%s/%s_%s", userID, name, filename)
			if err := a.cfg.Archive.Put(ctx, key, tmp, size, "application/pdf"); err != nil {
				slog.Warn("archive upload failed", "key", key, "error", err)
			}
		}
	}
	return name, nil
}

func (a *App) indexDocument(ctx context.Context, userID, text string, metadata map[string]string) (string, error) {
	if a.cfg.Vectors == nil {
		return "", ErrNotConfigured
	}
	chunks := ingest.ChunkDocument(text)
	if len(chunks) == 0 {
		return "", ingest.ErrNoText
	}
	name := collectionName(userID)
	if err := a.cfg.Vectors.Create(ctx, name, userID, chunks, metadata); err != nil {
		return "", err
	}
	slog.Info("collection created", "collection", name, "chunks", len(chunks), "source", metadata["source"])
	return name, nil
}

// collectionName builds a unique per-user collection name. The random
// suffix keeps two ingestions in the same millisecond from colliding.
func collectionName(userID string) string {
	return fmt.Sprintf("%s_%d_%s", userID, time.Now().UnixMilli(), util.NewID()[:6])
}
