package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_MockModeWithoutCredentials(t *testing.T) {
	client := NewClient(Config{})
	require.False(t, client.Enabled())

	summary, err := client.Summarize(context.Background(), "some document text", "")
	require.NoError(t, err)
	assert.Equal(t, MockSummary, summary)
}

func TestSummarize_MockModeIgnoresCustomPrompt(t *testing.T) {
	client := NewClient(Config{})

	summary, err := client.Summarize(context.Background(), "text", "Focus on dates")
	require.NoError(t, err)
	assert.Equal(t, MockSummary, summary)
}

func TestTruncate(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, Truncate(short))

	long := strings.Repeat("a", maxInputChars+500)
	truncated := Truncate(long)
	assert.Equal(t, maxInputChars, len(truncated))

	// Truncation counts characters, not bytes.
	multibyte := strings.Repeat("é", maxInputChars+1)
	truncated = Truncate(multibyte)
	assert.Equal(t, maxInputChars, utf8.RuneCountInString(truncated))
}

func TestBuildUserPrompt(t *testing.T) {
	prompt := BuildUserPrompt("body text", "")
	assert.Equal(t, "Summarize this document:\n\nbody text", prompt)

	prompt = BuildUserPrompt("body text", "List all action items")
	assert.Equal(t, "List all action items\n\nDocument text:\nbody text", prompt)
}

func TestBuildUserPrompt_TruncatesBeforeFraming(t *testing.T) {
	long := strings.Repeat("x", maxInputChars+100)
	prompt := BuildUserPrompt(long, "Custom prompt")

	// The document portion is capped even when a custom prompt is added.
	assert.Contains(t, prompt, "Custom prompt\n\nDocument text:\n")
	body := strings.TrimPrefix(prompt, "Custom prompt\n\nDocument text:\n")
	assert.Equal(t, maxInputChars, len(body))
}

func TestSummarize_RemoteSuccess(t *testing.T) {
	var gotPath string
	var gotReq chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"  A fine summary.  "}}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{
		Endpoint:   server.URL,
		APIKey:     "secret",
		Deployment: "gpt-4.1",
	})

	summary, err := client.Summarize(context.Background(), "document text", "")
	require.NoError(t, err)
	assert.Equal(t, "A fine summary.", summary)

	assert.Equal(t, "/openai/deployments/gpt-4.1/chat/completions", gotPath)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "Summarize this document:\n\ndocument text", gotReq.Messages[1].Content)
}

func TestSummarize_RemoteFailureIsAbsorbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "secret"})

	// A remote failure yields a diagnostic summary, not an error, so the
	// processing pipeline still completes.
	summary, err := client.Summarize(context.Background(), "text", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "Error generating summary:"), "got %q", summary)
}

func TestSummarize_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "secret"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Summarize(ctx, "text", "")
	assert.ErrorIs(t, err, context.Canceled)
}
