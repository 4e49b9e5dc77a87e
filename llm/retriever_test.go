package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audigest_back/knowledge"
)

type stubSearcher struct {
	chunks []knowledge.ScoredChunk
	err    error
	calls  int
	lastK  int
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ string, k int) ([]knowledge.ScoredChunk, error) {
	s.calls++
	s.lastK = k
	return s.chunks, s.err
}

func stubTitles(titles map[string]string) TitleResolver {
	return func(_ context.Context, _ string, _ []string) (map[string]string, error) {
		return titles, nil
	}
}

func TestDynamicKClamping(t *testing.T) {
	assert.Equal(t, retrievalKMin, dynamicK(0))
	assert.Equal(t, retrievalKMin, dynamicK(1200))
	assert.Equal(t, 8, dynamicK(8500))
	assert.Equal(t, retrievalKMax, dynamicK(500000))
	assert.Equal(t, retrievalKMin, dynamicK(-100))
}

func TestAssembleContextCitationNumbering(t *testing.T) {
	chunks := []knowledge.ScoredChunk{
		{SourceID: "src-a", Text: "first passage", Score: 0.9},
		{SourceID: "src-a", Text: "second passage", Score: 0.8},
		{SourceID: "src-b", Text: "third passage", Score: 0.7},
	}
	titles := map[string]string{"src-a": "Show A", "src-b": "Show B"}

	assembled := assembleContext(chunks, titles)

	// Every chunk keeps its own bracket number in rank order.
	require.Len(t, assembled.Entries, 3)
	assert.Equal(t, 1, assembled.Entries[0].Number)
	assert.Equal(t, 2, assembled.Entries[1].Number)
	assert.Equal(t, 3, assembled.Entries[2].Number)
	assert.Equal(t, "Show A", assembled.Entries[0].Title)
	assert.Equal(t, "Show A", assembled.Entries[1].Title)

	// Distinct sources collapse to one citation each.
	require.Len(t, assembled.Sources, 2)
	assert.Equal(t, "Show A", assembled.Sources[0].Title)
	assert.Equal(t, "Show B", assembled.Sources[1].Title)

	assert.Contains(t, assembled.ContextBlock, "[1] Source: Show A\nfirst passage")
	assert.Contains(t, assembled.ContextBlock, "[2] Source: Show A\nsecond passage")
	assert.Contains(t, assembled.ContextBlock, "[3] Source: Show B\nthird passage")
}

func TestAssembleContextUnknownSourcePlaceholder(t *testing.T) {
	chunks := []knowledge.ScoredChunk{{SourceID: "gone", Text: "orphaned text"}}

	assembled := assembleContext(chunks, map[string]string{})
	require.Len(t, assembled.Entries, 1)
	assert.Equal(t, unknownSourceTitle, assembled.Entries[0].Title)
	assert.Contains(t, assembled.ContextBlock, "[1] Source: "+unknownSourceTitle)
}

func TestEnforceBudgetCapsAndMarks(t *testing.T) {
	block := strings.Repeat("a", 500)

	bounded, truncated := enforceBudget(block, 200)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len([]rune(bounded)), 200)
	assert.True(t, strings.HasSuffix(bounded, truncationMarker))

	untouched, truncated := enforceBudget(block, 1000)
	assert.False(t, truncated)
	assert.Equal(t, block, untouched)
}

func TestAssembleDegradesOnSearchFailure(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("vector store down")}
	r := newRetriever(searcher, stubTitles(nil), defaultChatModelCatalog)

	assembled := r.Assemble(context.Background(), "alice", "what happened?", "gemma3:1b", "raw fallback context")
	assert.True(t, assembled.Degraded)
	assert.Equal(t, "raw fallback context", assembled.ContextBlock)
	assert.Empty(t, assembled.Sources)
}

func TestAssembleDegradesToNoContext(t *testing.T) {
	searcher := &stubSearcher{}
	r := newRetriever(searcher, stubTitles(nil), defaultChatModelCatalog)

	assembled := r.Assemble(context.Background(), "alice", "what happened?", "gemma3:1b", "")
	assert.True(t, assembled.Degraded)
	assert.Empty(t, assembled.ContextBlock)
}

func TestAssembleSizesRetrievalToModelBudget(t *testing.T) {
	searcher := &stubSearcher{}
	r := newRetriever(searcher, stubTitles(nil), defaultChatModelCatalog)

	// Large window clamps at kMax.
	r.Assemble(context.Background(), "alice", "q", "ministral-3:3b", "")
	assert.Equal(t, retrievalKMax, searcher.lastK)

	// A minimal window clamps at kMin.
	tiny := newRetriever(searcher, stubTitles(nil), []ChatModelOption{
		{Provider: "ollama", Name: "tiny:0.5b", ContextWindow: 1000},
	})
	tiny.Assemble(context.Background(), "alice", "q", "tiny:0.5b", "")
	assert.Equal(t, retrievalKMin, searcher.lastK)
}

func TestAssembleTruncatesOversizedContext(t *testing.T) {
	longText := strings.Repeat("transcript text ", 800)
	searcher := &stubSearcher{chunks: []knowledge.ScoredChunk{
		{SourceID: "src-a", Text: longText, Score: 0.9},
		{SourceID: "src-a", Text: longText, Score: 0.8},
	}}
	r := newRetriever(searcher, stubTitles(map[string]string{"src-a": "Show A"}), defaultChatModelCatalog)

	assembled := r.Assemble(context.Background(), "alice", "q", "unknown-model", "")
	budget := r.contextBudget("unknown-model")
	assert.True(t, assembled.Truncated)
	assert.LessOrEqual(t, len([]rune(assembled.ContextBlock)), budget)
	assert.True(t, strings.HasSuffix(assembled.ContextBlock, truncationMarker))
}

func TestBuildPromptContract(t *testing.T) {
	assembled := PromptContext{ContextBlock: "[1] Source: Show A\nsome passage"}
	messages := buildPrompt(assembled, "what was said?")

	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "cite")
	assert.Contains(t, messages[0].Content, "does not contain the answer, say so")
	assert.Equal(t, "user", messages[1].Role)
	assert.Contains(t, messages[1].Content, "[1] Source: Show A")
	assert.Contains(t, messages[1].Content, "Question: what was said?")
}
