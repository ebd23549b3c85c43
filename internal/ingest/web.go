package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// WebFetcher downloads a page and extracts its readable text.
type WebFetcher struct {
	httpClient *http.Client
}

// NewWebFetcher builds a page fetcher.
func NewWebFetcher() *WebFetcher {
	return &WebFetcher{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads the URL and returns its text content.
// An empty extraction is an error, never a valid document.
func (f *WebFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(pageURL), nil)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	req.Header.Set("User-Agent", "ragchat/1.0")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch page: %s", resp.Status)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	text := normalizeText(extractText(root))
	if text == "" {
		return "", ErrEmptyPage
	}
	return text, nil
}

// extractText walks the DOM collecting text nodes, skipping script and
// style subtrees.
func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "noscript" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
