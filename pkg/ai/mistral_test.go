package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatStreamDeliversTokensInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req mistralChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":[{\"type\":\"text\",\"text\":\"lo\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":{\"type\":\"text\",\"text\":\"!\"}}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewMistralClient(srv.URL+"/v1", "test-key", "test-model", "")
	var got strings.Builder
	err := client.ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(token string) error {
		got.WriteString(token)
		return nil
	})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	if got.String() != "Hello!" {
		t.Fatalf("streamed text = %q, want %q", got.String(), "Hello!")
	}
}

func TestChatStreamOnTokenErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewMistralClient(srv.URL, "test-key", "m", "")
	calls := 0
	err := client.ChatStream(context.Background(), nil, func(string) error {
		calls++
		return fmt.Errorf("stop")
	})
	if err == nil || !strings.Contains(err.Error(), "stop") {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 callback call, got %d", calls)
	}
}

func TestGenerateTextAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Unauthorized"}`)
	}))
	defer srv.Close()

	client := NewMistralClient(srv.URL, "bad-key", "m", "")
	if _, err := client.GenerateText(context.Background(), "", "hi"); err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestGenerateTextMissingKey(t *testing.T) {
	client := NewMistralClient("http://localhost:1", "", "m", "")
	if _, err := client.GenerateText(context.Background(), "", "hi"); err == nil {
		t.Fatal("expected error when api key is not configured")
	}
}

func TestEmbedTextsPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req mistralEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		// Return out of order; the client must re-sort by index.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[2]},{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	client := NewMistralClient(srv.URL, "test-key", "", "embed-model")
	vecs, err := client.EmbedTexts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed texts: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("unexpected embeddings: %v", vecs)
	}
}
