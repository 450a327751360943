// Package extraction provides a client for the remote document
// layout-analysis service used to extract text from PDFs.
package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "Ocp-Apim-Subscription-Key"

// Config holds extraction service settings.
type Config struct {
	Endpoint     string
	APIKey       string
	Model        string
	APIVersion   string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client talks to the layout-analysis REST API. Analysis is asynchronous
// on the service side: a submit call returns an operation URL which is
// polled until the job resolves.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an extraction client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "prebuilt-layout"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-11-30"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type analyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

type analyzeResult struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		Pages []struct {
			Lines []struct {
				Content string `json:"content"`
			} `json:"lines"`
		} `json:"pages"`
	} `json:"analyzeResult"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Extract submits the document for layout analysis and returns every
// recognized line of text in service reading order, each terminated by a
// newline. No local retry; a remote failure is the caller's extraction
// error.
func (c *Client) Extract(ctx context.Context, document []byte) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", fmt.Errorf("extraction endpoint not configured")
	}

	operationURL, err := c.submit(ctx, document)
	if err != nil {
		return "", err
	}

	result, err := c.poll(ctx, operationURL)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, page := range result.AnalyzeResult.Pages {
		for _, line := range page.Lines {
			text.WriteString(line.Content)
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func (c *Client) submit(ctx context.Context, document []byte) (string, error) {
	body, err := json.Marshal(analyzeRequest{
		Base64Source: base64.StdEncoding.EncodeToString(document),
	})
	if err != nil {
		return "", fmt.Errorf("marshal analyze request: %w", err)
	}

	url := fmt.Sprintf("%s/documentModels/%s:analyze?api-version=%s",
		strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Model, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("analysis submit returned status %d: %s", resp.StatusCode, string(raw))
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", fmt.Errorf("analysis submit response missing Operation-Location")
	}
	return operationURL, nil
}

func (c *Client) poll(ctx context.Context, operationURL string) (*analyzeResult, error) {
	deadline := time.Now().Add(c.cfg.Timeout)

	for {
		result, err := c.fetchOperation(ctx, operationURL)
		if err != nil {
			return nil, err
		}

		switch result.Status {
		case "succeeded":
			return result, nil
		case "failed":
			return nil, fmt.Errorf("analysis failed: %s: %s", result.Error.Code, result.Error.Message)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("analysis did not complete within %s", c.cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Client) fetchOperation(ctx context.Context, operationURL string) (*analyzeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analysis poll returned status %d: %s", resp.StatusCode, string(raw))
	}

	result := &analyzeResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	return result, nil
}
