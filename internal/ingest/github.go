package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// textFileExtensions limits repository ingestion to source and text
// files the model can meaningfully read.
var textFileExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".cs": true, ".go": true, ".rs": true, ".rb": true, ".php": true,
	".swift": true, ".kt": true, ".scala": true, ".sh": true, ".bash": true,
	".html": true, ".css": true, ".scss": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".xml": true, ".md": true, ".txt": true,
	".sql": true, ".r": true, ".pl": true, ".lua": true, ".dart": true,
	".cfg": true, ".ini": true, ".gradle": true, ".proto": true, ".vue": true,
}

const (
	githubFetchConcurrency = 8
	githubMaxFileBytes     = 1 << 20
)

// GitHubClient reads repository contents through the REST API.
type GitHubClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewGitHubClient builds a repository client. An empty token leaves the
// client in a degraded state that errors on first use.
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		baseURL: "https://api.github.com",
		token:   strings.TrimSpace(token),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ParseRepoPath derives "owner/repo" from a repository URL.
func ParseRepoPath(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrBadRepoURL
	}
	trimmed := strings.Trim(u.Path, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrBadRepoURL
	}
	return parts[0] + "/" + parts[1], nil
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

type repoTree struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int    `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// FetchRepo downloads every allow-listed text file in the repository and
// concatenates them under per-file headers, in tree order.
func (c *GitHubClient) FetchRepo(ctx context.Context, repoURL string) (string, error) {
	if c.token == "" {
		return "", ErrNoGitHubToken
	}
	repoPath, err := ParseRepoPath(repoURL)
	if err != nil {
		return "", err
	}

	var info repoInfo
	if err := c.getJSON(ctx, "/repos/"+repoPath, &info); err != nil {
		return "", err
	}
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	var tree repoTree
	if err := c.getJSON(ctx, "/repos/"+repoPath+"/git/trees/"+url.PathEscape(branch)+"?recursive=1", &tree); err != nil {
		return "", err
	}

	var files []string
	for _, entry := range tree.Tree {
		if entry.Type != "blob" {
			continue
		}
		if entry.Size > githubMaxFileBytes {
			continue
		}
		if !textFileExtensions[strings.ToLower(path.Ext(entry.Path))] {
			continue
		}
		files = append(files, entry.Path)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no readable files in repository %s", repoPath)
	}

	contents := make([]string, len(files))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(githubFetchConcurrency)
	for i, filePath := range files {
		eg.Go(func() error {
			raw, err := c.getRaw(gctx, "/repos/"+repoPath+"/contents/"+escapePath(filePath)+"?ref="+url.QueryEscape(branch))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", filePath, err)
			}
			contents[i] = raw
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	for i, filePath := range files {
		fmt.Fprintf(&b, "===== FILE %d: %s =====\n", i+1, filePath)
		b.WriteString(contents[i])
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func (c *GitHubClient) getJSON(ctx context.Context, apiPath string, out any) error {
	resp, err := c.get(ctx, apiPath, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkGitHubStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github decode: %w", err)
	}
	return nil
}

func (c *GitHubClient) getRaw(ctx context.Context, apiPath string) (string, error) {
	resp, err := c.get(ctx, apiPath, "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkGitHubStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, githubMaxFileBytes+1))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(body), ""), nil
}

func (c *GitHubClient) get(ctx context.Context, apiPath, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	return resp, nil
}

// RepoAccessError marks 403/404 responses so callers can distinguish
// private or missing repositories from transport failures.
type RepoAccessError struct {
	Status int
}

func (e *RepoAccessError) Error() string {
	return fmt.Sprintf("repository not accessible: status %d", e.Status)
}

func checkGitHubStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return &RepoAccessError{Status: resp.StatusCode}
	}
	return fmt.Errorf("github api error: %s", resp.Status)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
