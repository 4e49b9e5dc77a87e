package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"audigest_back/llm"
)

const (
	// summaryInputLimit bounds the transcript slice handed to the model so
	// summarizing a multi-hour episode stays within small-model memory.
	summaryInputLimit  = 8000
	summaryInputMarker = "... [truncated for processing]"
)

// summarizer produces a short digest of an acquired transcript.
type summarizer struct {
	client  *llm.ChatClient
	modelID string
}

func newSummarizerFromEnv() *summarizer {
	client, err := llm.NewChatClientFromEnv()
	if err != nil {
		log.Printf("ingest: summaries disabled: %v", err)
		return nil
	}
	return &summarizer{
		client:  client,
		modelID: strings.TrimSpace(os.Getenv("SUMMARY_MODEL_ID")),
	}
}

// Summarize asks the chat model for a concise summary of the transcript. The
// input is truncated to summaryInputLimit runes before prompting.
func (s *summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s == nil || s.client == nil {
		return "", nil
	}
	text := strings.TrimSpace(transcript)
	if text == "" {
		return "", nil
	}

	if runes := []rune(text); len(runes) > summaryInputLimit {
		text = string(runes[:summaryInputLimit]) + summaryInputMarker
	}

	messages := []llm.ChatMessage{
		{
			Role:    "system",
			Content: "You are a helpful assistant that provides clear, concise summaries.",
		},
		{
			Role: "user",
			Content: "Please provide a concise summary of the following text, " +
				"highlighting the key learnings and main points:\n\n" + text,
		},
	}

	result, err := s.client.Chat(ctx, s.modelID, messages)
	if err != nil {
		return "", fmt.Errorf("ingest: generate summary: %w", err)
	}
	return result.Content, nil
}
