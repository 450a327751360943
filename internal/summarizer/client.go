// Package summarizer provides the text-generation client that produces
// document summaries.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MockSummary is returned when no generation credentials are configured.
// Running without credentials is a supported degraded mode, not an error.
const MockSummary = "This is a mock summary for local development. Azure OpenAI API credentials are required for actual summaries."

// maxInputChars bounds the document text sent to the generation service.
// It models the downstream context window; changing it changes every
// summary the system produces for long documents.
const maxInputChars = 8000

const systemPrompt = `You are a HIPAA-compliant document summarization assistant.
Provide a concise summary of the document focusing on:
1. Key information and important points
2. Main topics and sections
3. Any action items or recommendations

Maintain medical privacy and confidentiality standards in your summary.`

// Config holds generation service settings.
type Config struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// Client generates summaries via a chat-completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a summarizer client. With an empty endpoint or API key
// the client operates in mock mode.
func NewClient(cfg Config) *Client {
	if cfg.Deployment == "" {
		cfg.Deployment = "gpt-4.1"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-05-15"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether real generation credentials are configured.
func (c *Client) Enabled() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Summarize produces a summary of text. The input is truncated to the
// first 8000 characters before prompt framing. A custom prompt, when
// present, replaces the default framing. Remote failures are absorbed
// into a diagnostic summary string: summarization is non-fatal to the
// processing pipeline by contract.
func (c *Client) Summarize(ctx context.Context, text, customPrompt string) (string, error) {
	userPrompt := BuildUserPrompt(text, customPrompt)

	if !c.Enabled() {
		return MockSummary, nil
	}

	summary, err := c.complete(ctx, userPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Error generating summary: %v", err), nil
	}
	return summary, nil
}

// BuildUserPrompt truncates the document text and applies prompt framing.
func BuildUserPrompt(text, customPrompt string) string {
	text = Truncate(text)
	if customPrompt != "" {
		return fmt.Sprintf("%s\n\nDocument text:\n%s", customPrompt, text)
	}
	return fmt.Sprintf("Summarize this document:\n\n%s", text)
}

// Truncate limits text to the first 8000 characters.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputChars {
		return text
	}
	return string(runes[:maxInputChars])
}

func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generation returned status %d: %s", resp.StatusCode, string(raw))
	}

	parsed := chatResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generation returned no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
