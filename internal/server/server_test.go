package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ragchat/internal/app"
	"ragchat/internal/ingest"
	"ragchat/internal/memory"
	"ragchat/pkg/ai"
	"ragchat/pkg/domain"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
)

type fakeStreamer struct {
	tokens []string
}

func (f *fakeStreamer) ChatStream(_ context.Context, _ []ai.Message, onToken func(string) error) error {
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

type titlerFunc func(ctx context.Context, system, user string) (string, error)

func (f titlerFunc) GenerateText(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 13)
	}
	return v, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := app.Config{
		Store:    st,
		Sessions: store.NewJWTSessionStore("test-secret", time.Hour, store.NewMemoryTokenRevoker()),
		Memory:   memory.NewInProcStore(),
		Generator: &fakeStreamer{
			tokens: []string{"Hel", "lo"},
		},
		TitleGenerator: titlerFunc(func(context.Context, string, string) (string, error) {
			return "Greeting", nil
		}),
		Vectors:   vectorstore.New(st, fixedEmbedder{}),
		Web:       ingest.NewWebFetcher(),
		TitleWait: 200 * time.Millisecond,
	}
	core, err := app.New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: core})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func signUp(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":"hunter22pass"}`, email)
	resp, err := http.Post(ts.URL+"/auth/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("signup request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("signup returned empty token")
	}
	return out.Token
}

func doAuthed(t *testing.T, ts *httptest.Server, token, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func createChat(t *testing.T, ts *httptest.Server, token, chatType, collection string) domain.Chat {
	t.Helper()
	body := fmt.Sprintf(`{"type":%q,"collection":%q}`, chatType, collection)
	resp := doAuthed(t, ts, token, http.MethodPost, "/chats", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat expected 201, got %d", resp.StatusCode)
	}
	var chat domain.Chat
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	return chat
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSignupSigninSignoutFlow(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "flow@example.com")

	resp := doAuthed(t, ts, token, http.MethodGet, "/auth/me", nil)
	var me domain.User
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	resp.Body.Close()
	if me.Email != "flow@example.com" {
		t.Fatalf("me returned email %q", me.Email)
	}

	resp = doAuthed(t, ts, token, http.MethodPost, "/auth/signout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signout expected 200, got %d", resp.StatusCode)
	}

	resp = doAuthed(t, ts, token, http.MethodGet, "/auth/me", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token expected 401, got %d", resp.StatusCode)
	}

	body := `{"email":"flow@example.com","password":"hunter22pass"}`
	signin, err := http.Post(ts.URL+"/auth/signin", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	signin.Body.Close()
	if signin.StatusCode != http.StatusOK {
		t.Fatalf("signin expected 200, got %d", signin.StatusCode)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	ts := newTestServer(t)
	signUp(t, ts, "dupe@example.com")
	body := `{"email":"dupe@example.com","password":"hunter22pass"}`
	resp, err := http.Post(ts.URL+"/auth/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup expected 409, got %d", resp.StatusCode)
	}
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/auth/me", "/chats", "/chat/stream", "/yt_rag"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s expected 401 without token, got %d", path, resp.StatusCode)
		}
	}
}

func TestChatLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "chats@example.com")

	chat := createChat(t, ts, token, "Normal", "")
	if chat.Title != "New Chat" || chat.Type != domain.ChatNormal {
		t.Fatalf("unexpected chat %+v", chat)
	}

	resp := doAuthed(t, ts, token, http.MethodGet, "/chats", nil)
	var listing struct {
		Items []domain.Chat `json:"items"`
		Count int           `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	resp.Body.Close()
	if listing.Count != 1 || listing.Items[0].ID != chat.ID {
		t.Fatalf("unexpected listing %+v", listing)
	}

	resp = doAuthed(t, ts, token, http.MethodGet, "/chats/"+chat.ID+"/messages", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("messages expected 200, got %d", resp.StatusCode)
	}

	resp = doAuthed(t, ts, token, http.MethodDelete, "/chats/"+chat.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", resp.StatusCode)
	}

	resp = doAuthed(t, ts, token, http.MethodGet, "/chats/"+chat.ID+"/messages", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted chat expected 404, got %d", resp.StatusCode)
	}
}

func TestChatAccessIsScopedToOwner(t *testing.T) {
	ts := newTestServer(t)
	owner := signUp(t, ts, "owner@example.com")
	other := signUp(t, ts, "other@example.com")
	chat := createChat(t, ts, owner, "Normal", "")

	resp := doAuthed(t, ts, other, http.MethodGet, "/chats/"+chat.ID+"/messages", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign chat expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateChatInvalidType(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "types@example.com")
	resp := doAuthed(t, ts, token, http.MethodPost, "/chats", strings.NewReader(`{"type":"Telepathy"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid type expected 400, got %d", resp.StatusCode)
	}
}

func TestChatStreamDeliversTokensAndTitleMarker(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "stream@example.com")
	chat := createChat(t, ts, token, "Normal", "")

	body := fmt.Sprintf(`{"chatId":%q,"message":"hi there"}`, chat.ID)
	resp := doAuthed(t, ts, token, http.MethodPost, "/chat/stream", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain content type, got %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("expected no-cache, got %q", cc)
	}
	if ab := resp.Header.Get("X-Accel-Buffering"); ab != "no" {
		t.Fatalf("expected X-Accel-Buffering no, got %q", ab)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	want := "Hello<!-- TITLE_UPDATE:Greeting -->"
	if string(out) != want {
		t.Fatalf("stream body = %q, want %q", out, want)
	}
}

func TestChatStreamUnknownChatIs404(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "missing@example.com")
	resp := doAuthed(t, ts, token, http.MethodPost, "/chat/stream", strings.NewReader(`{"chatId":"nope","message":"hi"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown chat expected 404, got %d", resp.StatusCode)
	}
}

func TestChatStreamRequiresChatID(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "nochat@example.com")
	resp := doAuthed(t, ts, token, http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing chatId expected 400, got %d", resp.StatusCode)
	}
}

func TestWebIngestReturnsCollectionName(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html><body><p>Gophers build concurrent systems.</p></body></html>")
	}))
	defer page.Close()

	ts := newTestServer(t)
	token := signUp(t, ts, "web@example.com")

	body := fmt.Sprintf(`{"url":%q}`, page.URL)
	resp := doAuthed(t, ts, token, http.MethodPost, "/web_rag", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("web_rag expected 201, got %d", resp.StatusCode)
	}
	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CollectionName == "" {
		t.Fatalf("expected non-empty collection_name")
	}
}

func TestIngestUnconfiguredSourceIs503(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "noyt@example.com")
	resp := doAuthed(t, ts, token, http.MethodPost, "/yt_rag", strings.NewReader(`{"url":"https://youtu.be/abcdefghijk"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured source expected 503, got %d", resp.StatusCode)
	}
}

func TestIngestRequiresURL(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "nourl@example.com")
	resp := doAuthed(t, ts, token, http.MethodPost, "/web_rag", strings.NewReader(`{"url":" "}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank url expected 400, got %d", resp.StatusCode)
	}
}

func TestPDFIngestRejectsNonPDF(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "pdf@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("plain text"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/pdf_rag", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("pdf_rag: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-pdf upload expected 400, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "methods@example.com")
	resp := doAuthed(t, ts, token, http.MethodGet, "/chat/stream", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /chat/stream expected 405, got %d", resp.StatusCode)
	}
}
