package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ragchat/internal/app"
	"ragchat/internal/ingest"
	"ragchat/internal/ratelimit"
	"ragchat/internal/util"
	"ragchat/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	SigninRateLimitPerMinute int
	MaxUploadBytes           int64
	TrustedProxies           []string
}

// Server exposes the HTTP surface of the chat backend.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	trusted        *util.TrustedProxies
	signupLimiter  *ratelimit.FixedWindowLimiter
	signinLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting requires
// Redis; with no Redis address the limiters are disabled.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	signinLimit := cfg.SigninRateLimitPerMinute
	if signinLimit <= 0 {
		signinLimit = 10
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		trusted:        trusted,
	}
	if cfg.RedisAddr != "" {
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "ragchat:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
		if s.signinLimiter, err = newLimiter("signin", signinLimit); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("rate limiting disabled: no redis address configured")
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/signin", s.handleSignin)
	s.mux.HandleFunc("/auth/signout", s.handleSignout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	// chats & streaming (auth required)
	s.mux.Handle("/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/chats/", s.authenticated(s.handleChatByID))
	s.mux.Handle("/chat/stream", s.authenticated(s.handleChatStream))

	// ingestion (auth required)
	s.mux.Handle("/yt_rag", s.authenticated(s.handleYouTubeRAG))
	s.mux.Handle("/git_rag", s.authenticated(s.handleGitRAG))
	s.mux.Handle("/web_rag", s.authenticated(s.handleWebRAG))
	s.mux.Handle("/pdf_rag", s.authenticated(s.handlePDFRAG))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(w http.ResponseWriter, r *http.Request, user domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "auth.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	user, err := s.app.UserFromToken(r.Context(), token)
	if err != nil {
		s.audit(r, "auth.token.verify", "fail", "reason", "invalid_or_revoked")
		return domain.User{}, false
	}
	return user, true
}

// auth handlers

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "auth.signup", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signinLimiter, "too many signin attempts") {
		s.audit(r, "auth.signin", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.signin", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.signin", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.signin", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.SignOut(r.Context(), token); err != nil {
		s.audit(r, "auth.signout", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.signout", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// chat handlers

type createChatRequest struct {
	Type       string `json:"type"`
	Collection string `json:"collection,omitempty"`
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		chats, err := s.app.ListChats(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": chats,
			"count": len(chats),
		})
	case http.MethodPost:
		var req createChatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		chat, err := s.app.CreateChat(r.Context(), user.ID, req.Type, req.Collection)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/chats/")
	chatID, tail, _ := strings.Cut(rest, "/")
	if chatID == "" {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	switch {
	case tail == "" && r.Method == http.MethodDelete:
		if err := s.app.DeleteChat(r.Context(), user.ID, chatID); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "chat.delete", "success", "user_id", user.ID, "chat_id", chatID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case tail == "messages" && r.Method == http.MethodGet:
		messages, err := s.app.ChatMessages(r.Context(), user.ID, chatID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": messages,
			"count": len(messages),
		})
	case tail == "" || tail == "messages":
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type streamRequest struct {
	ChatID     string `json:"chatId"`
	Message    string `json:"message"`
	Collection string `json:"collection,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req streamRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}
	flusher, _ := w.(http.Flusher)
	started := false
	emit := func(token string) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	err := s.app.StreamChat(r.Context(), app.StreamRequest{
		UserID:     user.ID,
		ChatID:     req.ChatID,
		Message:    req.Message,
		Collection: req.Collection,
	}, emit)
	if err != nil {
		if started {
			// Headers are gone; the client sees a truncated stream.
			slog.Error("stream aborted after first token", "err", err, "chat_id", req.ChatID)
			return
		}
		s.audit(r, "chat.stream", "fail", "user_id", user.ID, "chat_id", req.ChatID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	if !started {
		// Model produced no tokens; still deliver an empty stream body.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
}

// ingestion handlers

type ingestRequest struct {
	URL string `json:"url"`
}

type ingestResponse struct {
	CollectionName string `json:"collection_name"`
}

func (s *Server) handleYouTubeRAG(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleURLIngest(w, r, user, "ingest.youtube", s.app.IngestYouTube)
}

func (s *Server) handleGitRAG(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleURLIngest(w, r, user, "ingest.git", s.app.IngestGit)
}

func (s *Server) handleWebRAG(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleURLIngest(w, r, user, "ingest.web", s.app.IngestWeb)
}

func (s *Server) handleURLIngest(w http.ResponseWriter, r *http.Request, user domain.User, event string, ingestFn func(ctx context.Context, userID, url string) (string, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	name, err := ingestFn(r.Context(), user.ID, req.URL)
	if err != nil {
		s.audit(r, event, "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, event, "success", "user_id", user.ID, "collection", name)
	writeJSON(w, http.StatusCreated, ingestResponse{CollectionName: name})
}

func (s *Server) handlePDFRAG(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	name, err := s.app.IngestPDF(r.Context(), user.ID, header.Filename, file, header.Size)
	if err != nil {
		s.audit(r, "ingest.pdf", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "ingest.pdf", "success", "user_id", user.ID, "collection", name)
	writeJSON(w, http.StatusCreated, ingestResponse{CollectionName: name})
}

// helpers

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func writeAppError(w http.ResponseWriter, err error) {
	var repoErr *ingest.RepoAccessError
	switch {
	case errors.Is(err, app.ErrInvalidToken), errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrEmailExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrChatNotFound), errors.Is(err, app.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrWeakPassword),
		errors.Is(err, app.ErrInvalidEmail),
		errors.Is(err, app.ErrInvalidChatType),
		errors.Is(err, app.ErrEmptyMessage),
		errors.Is(err, app.ErrCollectionRequired),
		errors.Is(err, ingest.ErrNoCaptions),
		errors.Is(err, ingest.ErrEmptyPage),
		errors.Is(err, ingest.ErrBadRepoURL),
		errors.Is(err, ingest.ErrNoText):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &repoErr):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotConfigured), errors.Is(err, ingest.ErrNoGitHubToken):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
