package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragchat/internal/util"
	"ragchat/pkg/ai"
	"ragchat/pkg/domain"
	"ragchat/pkg/vectorstore"
)

// StreamRequest is one user turn in a chat.
type StreamRequest struct {
	UserID  string
	ChatID  string
	Message string

	// Collection overrides the chat's stored collection for this turn.
	Collection string
}

// StreamChat runs a full chat turn: it resolves context, streams model
// tokens through emit in arrival order, races title generation on the
// first turn, and persists the transcript. Errors returned before the
// first emit call are safe to map to HTTP statuses; once streaming has
// begun, failures are folded into the stream itself.
func (a *App) StreamChat(ctx context.Context, req StreamRequest, emit func(token string) error) error {
	if a.cfg.Generator == nil {
		return ErrNotConfigured
	}
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	chat, err := a.ownedChat(req.UserID, req.ChatID)
	if err != nil {
		return err
	}

	priorCount, err := a.cfg.Store.CountMessages(chat.ID)
	if err != nil {
		// Without a reliable count, skip title generation rather than
		// risk titling the chat twice.
		slog.Warn("count messages failed", "chat_id", chat.ID, "error", err)
		priorCount = 1
	}
	firstTurn := priorCount == 0

	a.persistMessage(chat.ID, "user", req.Message)

	// Context resolution happens before any model call so invalid
	// retrieval turns fail fast.
	messages, err := a.resolveContext(ctx, chat, req)
	if err != nil {
		return err
	}

	if chat.Type == domain.ChatNormal {
		if err := a.cfg.Memory.Append(ctx, req.UserID, domain.ChatMessage{Role: "user", Content: req.Message}); err != nil {
			slog.Warn("append conversation memory failed", "user_id", req.UserID, "error", err)
		}
	}

	var titleCh chan string
	var cancelTitle context.CancelFunc
	if firstTurn {
		var titleCtx context.Context
		titleCtx, cancelTitle = context.WithCancel(ctx)
		defer cancelTitle()
		titleCh = make(chan string, 1)
		go func() {
			titleCh <- a.generateTitle(titleCtx, req.Message)
		}()
	}

	var acc strings.Builder
	streamErr := a.cfg.Generator.ChatStream(ctx, messages, func(token string) error {
		acc.WriteString(token)
		return emit(token)
	})
	if streamErr != nil {
		// Keep the visible and stored transcripts identical: the
		// partial answer plus a diagnostic suffix goes to both.
		if cancelTitle != nil {
			cancelTitle()
		}
		diag := fmt.Sprintf("\n\nError: %v", streamErr)
		if err := emit(diag); err != nil {
			slog.Warn("emit diagnostic failed", "chat_id", chat.ID, "error", err)
		}
		acc.WriteString(diag)
		a.finishTurn(ctx, chat, req.UserID, acc.String())
		slog.Error("model stream failed", "chat_id", chat.ID, "error", streamErr)
		return nil
	}

	if firstTurn {
		title := a.resolveTitle(ctx, titleCh, cancelTitle, req.Message)
		if err := a.cfg.Store.SetChatTitle(chat.ID, title); err != nil {
			slog.Warn("set chat title failed", "chat_id", chat.ID, "error", err)
		}
		if err := emit(fmt.Sprintf(titleMarkerFormat, title)); err != nil {
			slog.Warn("emit title marker failed", "chat_id", chat.ID, "error", err)
		}
	}

	a.finishTurn(ctx, chat, req.UserID, acc.String())
	return nil
}

// resolveContext builds the model request for this turn.
func (a *App) resolveContext(ctx context.Context, chat domain.Chat, req StreamRequest) ([]ai.Message, error) {
	if chat.Type.IsRetrieval() {
		collection := strings.TrimSpace(req.Collection)
		if collection == "" {
			collection = chat.Collection
		}
		if collection == "" {
			return nil, ErrCollectionRequired
		}
		if a.cfg.Vectors == nil {
			return nil, ErrNotConfigured
		}
		chunks, err := a.cfg.Vectors.Query(ctx, collection, req.Message, a.cfg.RetrievalK)
		if err != nil {
			if errors.Is(err, vectorstore.ErrNotFound) {
				return nil, ErrCollectionNotFound
			}
			return nil, fmt.Errorf("query collection: %w", err)
		}
		parts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			parts = append(parts, chunk.Content)
		}
		return []ai.Message{
			{Role: "system", Content: ragSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(ragUserTemplate, strings.Join(parts, "\n"), req.Message)},
		}, nil
	}

	history, err := a.cfg.Memory.History(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("read conversation memory: %w", err)
	}
	if len(history) == 0 || history[0].Role != "system" {
		seed := domain.ChatMessage{Role: "system", Content: systemInstruction}
		if err := a.cfg.Memory.Append(ctx, req.UserID, seed); err != nil {
			slog.Warn("seed conversation memory failed", "user_id", req.UserID, "error", err)
		}
		history = append([]domain.ChatMessage{seed}, history...)
	}
	messages := make([]ai.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, ai.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: req.Message})
	return messages, nil
}

// finishTurn persists the assistant reply. Persistence failures are
// logged and swallowed so the already-delivered stream stays valid.
func (a *App) finishTurn(ctx context.Context, chat domain.Chat, userID, reply string) {
	a.persistMessage(chat.ID, "assistant", reply)
	if chat.Type == domain.ChatNormal {
		if err := a.cfg.Memory.Append(ctx, userID, domain.ChatMessage{Role: "assistant", Content: reply}); err != nil {
			slog.Warn("append conversation memory failed", "user_id", userID, "error", err)
		}
	}
}

func (a *App) persistMessage(chatID, role, content string) {
	msg := domain.Message{
		ID:        util.NewID(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.cfg.Store.AppendMessage(chatID, msg); err != nil {
		slog.Warn("persist message failed", "chat_id", chatID, "role", role, "error", err)
	}
}

// resolveTitle waits for the racing title task, retries once
// synchronously on timeout, and falls back to the default title.
func (a *App) resolveTitle(ctx context.Context, titleCh <-chan string, cancel context.CancelFunc, message string) string {
	select {
	case title := <-titleCh:
		if title != "" {
			return title
		}
	case <-time.After(a.cfg.TitleWait):
		cancel()
		if title := a.generateTitle(ctx, message); title != "" {
			return title
		}
	}
	return defaultChatTitle
}

func (a *App) generateTitle(ctx context.Context, message string) string {
	if a.cfg.TitleGenerator == nil {
		return ""
	}
	title, err := a.cfg.TitleGenerator.GenerateText(ctx, titleSystemPrompt, message)
	if err != nil {
		slog.Warn("title generation failed", "error", err)
		return ""
	}
	return sanitizeTitle(title)
}

// sanitizeTitle flattens model output to a single short line.
func sanitizeTitle(title string) string {
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	title = strings.Join(strings.Fields(title), " ")
	words := strings.Fields(title)
	if len(words) > 5 {
		title = strings.Join(words[:5], " ")
	}
	return title
}
