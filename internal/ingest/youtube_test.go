package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=abc123&t=42s", "abc123"},
		{"https://www.youtube.com/embed/abc123", "abc123"},
		{"https://www.youtube.com/shorts/abc123", "abc123"},
	}
	for _, tc := range tests {
		got, err := VideoID(tc.url)
		if err != nil {
			t.Fatalf("VideoID(%q): %v", tc.url, err)
		}
		if got != tc.want {
			t.Fatalf("VideoID(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestVideoIDInvalid(t *testing.T) {
	if _, err := VideoID("https://www.youtube.com/"); err == nil {
		t.Fatal("expected error for url without video id")
	}
}

func TestTranscriptJoinsSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("v"); got != "vid123" {
			t.Errorf("video id = %q, want vid123", got)
		}
		fmt.Fprint(w, `<transcript><text start="0" dur="2">hello</text><text start="2" dur="2">there &amp; welcome</text></transcript>`)
	}))
	defer srv.Close()

	c := NewYouTubeClient("en")
	c.baseURL = srv.URL
	got, err := c.Transcript(context.Background(), "https://www.youtube.com/watch?v=vid123")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if got != "hello there & welcome" {
		t.Fatalf("transcript = %q", got)
	}
}

func TestTranscriptNoCaptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// The timedtext endpoint answers 200 with an empty body when a
		// video has no caption track.
	}))
	defer srv.Close()

	c := NewYouTubeClient("")
	c.baseURL = srv.URL
	if _, err := c.Transcript(context.Background(), "https://youtu.be/vid123"); !errors.Is(err, ErrNoCaptions) {
		t.Fatalf("expected ErrNoCaptions, got %v", err)
	}
}
