package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audigest_back/llm"
)

type capturedChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newSummarizerTestServer(t *testing.T, answer string, captured *capturedChatRequest) *summarizer {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, answer)
	}))
	t.Cleanup(server.Close)

	t.Setenv("LLM_BASE_URL", server.URL)
	client, err := llm.NewChatClientFromEnv()
	require.NoError(t, err)

	return &summarizer{client: client}
}

func TestSummarizeTruncatesLongTranscript(t *testing.T) {
	var captured capturedChatRequest
	s := newSummarizerTestServer(t, "a short digest", &captured)

	transcript := strings.Repeat("ä", summaryInputLimit+1000)
	summary, err := s.Summarize(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, "a short digest", summary)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "concise summaries")

	user := captured.Messages[1].Content
	assert.True(t, strings.HasPrefix(user, "Please provide a concise summary"))
	assert.True(t, strings.HasSuffix(user, summaryInputMarker))

	// The prompt carries exactly the truncated transcript plus the marker.
	body := user[strings.Index(user, "\n\n")+2:]
	assert.Equal(t, summaryInputLimit+len([]rune(summaryInputMarker)), len([]rune(body)))
}

func TestSummarizeShortTranscriptIsNotTruncated(t *testing.T) {
	var captured capturedChatRequest
	s := newSummarizerTestServer(t, "digest", &captured)

	_, err := s.Summarize(context.Background(), "a brief talk about sleep")
	require.NoError(t, err)

	user := captured.Messages[1].Content
	assert.Contains(t, user, "a brief talk about sleep")
	assert.NotContains(t, user, summaryInputMarker)
}

func TestSummarizeDisabledOrEmptyInput(t *testing.T) {
	var disabled *summarizer
	summary, err := disabled.Summarize(context.Background(), "some transcript")
	require.NoError(t, err)
	assert.Empty(t, summary)

	var captured capturedChatRequest
	s := newSummarizerTestServer(t, "unused", &captured)
	summary, err = s.Summarize(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Empty(t, captured.Messages, "empty transcripts must not reach the model")
}

func TestServiceSummaryIsBestEffort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	t.Setenv("LLM_BASE_URL", server.URL)
	client, err := llm.NewChatClientFromEnv()
	require.NoError(t, err)

	svc := &Service{summaries: &summarizer{client: client}}
	assert.Empty(t, svc.summarize(context.Background(), "some transcript"))

	// A service without a configured summarizer degrades the same way.
	svc = &Service{}
	assert.Empty(t, svc.summarize(context.Background(), "some transcript"))
}
