package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MistralClient calls the Mistral chat completions and embeddings APIs.
// It also works against any OpenAI-compatible endpoint serving the same
// wire format.
type MistralClient struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

// NewMistralClient builds a Mistral API client.
// baseURL should include the /v1 prefix; empty defaults to the hosted API.
func NewMistralClient(baseURL, apiKey, chatModel, embedModel string) *MistralClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.mistral.ai/v1"
	}
	if chatModel = strings.TrimSpace(chatModel); chatModel == "" {
		chatModel = "mistral-large-latest"
	}
	if embedModel = strings.TrimSpace(embedModel); embedModel == "" {
		embedModel = "mistral-embed"
	}
	return &MistralClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type mistralChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type mistralChatResponse struct {
	Choices []struct {
		Message struct {
			Content MessageContent `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type mistralStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content MessageContent `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type mistralErrorResponse struct {
	Message string `json:"message"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText implements TextGenerator with a non-streaming completion.
func (c *MistralClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	resp, err := c.post(ctx, "/chat/completions", mistralChatRequest{
		Model:    c.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var chatResp mistralChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("mistral decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from mistral api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from mistral api")
	}
	return text, nil
}

// ChatStream implements StreamGenerator over server-sent events.
func (c *MistralClient) ChatStream(ctx context.Context, messages []Message, onToken func(token string) error) error {
	resp, err := c.post(ctx, "/chat/completions", mistralChatRequest{
		Model:    c.chatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				return nil
			}
			continue
		}
		var chunk mistralStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("mistral stream decode: %w", err)
		}
		for _, choice := range chunk.Choices {
			token := choice.Delta.Content.Text()
			if token == "" {
				continue
			}
			if err := onToken(token); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mistral stream read: %w", err)
	}
	return nil
}

type mistralEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type mistralEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedText returns the embedding for a single text.
func (c *MistralClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts returns embeddings for multiple texts in one request,
// in input order.
func (c *MistralClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.post(ctx, "/embeddings", mistralEmbedRequest{
		Model: c.embedModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var embedResp mistralEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("mistral embed decode: %w", err)
	}
	if len(embedResp.Data) != len(texts) {
		return nil, fmt.Errorf("mistral embed: got %d embeddings for %d inputs", len(embedResp.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, item := range embedResp.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, fmt.Errorf("mistral embed: index %d out of range", item.Index)
		}
		vecs[item.Index] = item.Embedding
	}
	return vecs, nil
}

func (c *MistralClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("mistral api key not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var errResp mistralErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error.Message
	if msg == "" {
		msg = errResp.Message
	}
	if msg != "" {
		return fmt.Errorf("mistral api error: %s", msg)
	}
	return fmt.Errorf("mistral api error: %s", resp.Status)
}
