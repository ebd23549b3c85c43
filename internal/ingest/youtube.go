package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// YouTubeClient fetches caption transcripts through the timedtext API.
type YouTubeClient struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// NewYouTubeClient builds a transcript client. language defaults to "en".
func NewYouTubeClient(language string) *YouTubeClient {
	if language = strings.TrimSpace(language); language == "" {
		language = "en"
	}
	return &YouTubeClient{
		baseURL:  "https://video.google.com/timedtext",
		language: language,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// VideoID extracts the video ID from a watch URL or a youtu.be short link.
func VideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse video url: %w", err)
	}
	if id := u.Query().Get("v"); id != "" {
		return id, nil
	}
	if strings.Contains(u.Host, "youtu.be") {
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, nil
		}
	}
	// Embed and shorts paths carry the ID as the last segment.
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 2 && (parts[0] == "embed" || parts[0] == "shorts") && parts[1] != "" {
		return parts[1], nil
	}
	return "", fmt.Errorf("no video id in url %q", raw)
}

type timedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Body  string `xml:",chardata"`
	} `xml:"text"`
}

// Transcript fetches the caption track for a video URL and joins the
// segments into one text.
func (c *YouTubeClient) Transcript(ctx context.Context, videoURL string) (string, error) {
	id, err := VideoID(videoURL)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s?lang=%s&v=%s", c.baseURL, url.QueryEscape(c.language), url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch captions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch captions: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read captions: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", ErrNoCaptions
	}

	var track timedText
	if err := xml.Unmarshal(body, &track); err != nil {
		return "", fmt.Errorf("decode captions: %w", err)
	}
	var b strings.Builder
	for _, seg := range track.Texts {
		text := normalizeText(html.UnescapeString(seg.Body))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(text)
	}
	if b.Len() == 0 {
		return "", ErrNoCaptions
	}
	return b.String(), nil
}
