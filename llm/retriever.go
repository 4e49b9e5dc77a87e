package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"audigest_back/knowledge"
)

const (
	// contextReserveFraction is the share of the input budget given to
	// retrieved context; the rest is left for instructions and the question.
	contextReserveFraction = 0.65
	assumedCharsPerChunk   = 1000
	retrievalKMin          = 5
	retrievalKMax          = 20

	truncationMarker = "\n... [context truncated]"

	unknownSourceTitle = "Unknown source"
)

// ChunkSearcher is the read side of the vector store.
type ChunkSearcher interface {
	Search(ctx context.Context, userID, query string, k int) ([]knowledge.ScoredChunk, error)
}

// TitleResolver resolves source ids to display titles for one user.
type TitleResolver func(ctx context.Context, userID string, ids []string) (map[string]string, error)

// ContextEntry is one retrieved chunk as it appears in the prompt, tagged
// with its bracket number.
type ContextEntry struct {
	Number   int     `json:"number"`
	SourceID string  `json:"source_id"`
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Score    float64 `json:"score,omitempty"`
}

// SourceCitation is one distinct source referenced by the assembled context.
type SourceCitation struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
}

// PromptContext is the assembled, budget-bounded context for one question.
type PromptContext struct {
	ContextBlock string
	Entries      []ContextEntry
	Sources      []SourceCitation
	Truncated    bool
	Degraded     bool
}

// retriever turns a question into a bounded context block using dynamically
// sized vector retrieval.
type retriever struct {
	searcher ChunkSearcher
	titles   TitleResolver
	catalog  []ChatModelOption
}

func newRetriever(searcher ChunkSearcher, titles TitleResolver, catalog []ChatModelOption) *retriever {
	return &retriever{searcher: searcher, titles: titles, catalog: catalog}
}

// contextBudget returns the character budget for retrieved context under the
// named model.
func (r *retriever) contextBudget(modelID string) int {
	return int(float64(MaxInputChars(r.catalog, modelID)) * contextReserveFraction)
}

// dynamicK sizes retrieval to the model's context budget, clamped to a sane
// range.
func dynamicK(contextCharBudget int) int {
	k := contextCharBudget / assumedCharsPerChunk
	if k < retrievalKMin {
		return retrievalKMin
	}
	if k > retrievalKMax {
		return retrievalKMax
	}
	return k
}

// Assemble retrieves chunks for the question, resolves titles, and builds the
// citation-tagged context block. Retrieval failures never surface as errors:
// the assembler degrades to the raw context (when given) or to no context.
func (r *retriever) Assemble(ctx context.Context, userID, question, modelID, rawContext string) PromptContext {
	budget := r.contextBudget(modelID)

	chunks, err := r.retrieve(ctx, userID, question, budget)
	if err != nil {
		log.Printf("llm: retrieval degraded for user %s: %v", userID, err)
	}
	if len(chunks) == 0 {
		return r.degraded(rawContext, budget)
	}

	titles := r.resolveTitles(ctx, userID, chunks)

	assembled := assembleContext(chunks, titles)
	assembled.ContextBlock, assembled.Truncated = enforceBudget(assembled.ContextBlock, budget)
	return assembled
}

func (r *retriever) retrieve(ctx context.Context, userID, question string, budget int) ([]knowledge.ScoredChunk, error) {
	if r.searcher == nil {
		return nil, nil
	}
	return r.searcher.Search(ctx, userID, question, dynamicK(budget))
}

func (r *retriever) resolveTitles(ctx context.Context, userID string, chunks []knowledge.ScoredChunk) map[string]string {
	seen := make(map[string]struct{}, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if _, ok := seen[chunk.SourceID]; ok {
			continue
		}
		seen[chunk.SourceID] = struct{}{}
		ids = append(ids, chunk.SourceID)
	}

	if r.titles == nil {
		return map[string]string{}
	}
	titles, err := r.titles(ctx, userID, ids)
	if err != nil {
		log.Printf("llm: resolve source titles: %v", err)
		return map[string]string{}
	}
	return titles
}

func (r *retriever) degraded(rawContext string, budget int) PromptContext {
	result := PromptContext{Degraded: true}
	trimmed := strings.TrimSpace(rawContext)
	if trimmed == "" {
		return result
	}
	result.ContextBlock, result.Truncated = enforceBudget(trimmed, budget)
	return result
}

// assembleContext numbers chunks 1..N in retrieval-rank order. Chunks from
// the same source share its title but keep their own bracket numbers; the
// citation list holds each distinct source once.
func assembleContext(chunks []knowledge.ScoredChunk, titles map[string]string) PromptContext {
	var builder strings.Builder
	entries := make([]ContextEntry, 0, len(chunks))
	var citations []SourceCitation
	cited := make(map[string]struct{}, len(chunks))

	for i, chunk := range chunks {
		title := titles[chunk.SourceID]
		if title == "" {
			title = unknownSourceTitle
		}

		number := i + 1
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		fmt.Fprintf(&builder, "[%d] Source: %s\n%s", number, title, chunk.Text)

		entries = append(entries, ContextEntry{
			Number:   number,
			SourceID: chunk.SourceID,
			Title:    title,
			Text:     chunk.Text,
			Score:    chunk.Score,
		})
		if _, ok := cited[chunk.SourceID]; !ok {
			cited[chunk.SourceID] = struct{}{}
			citations = append(citations, SourceCitation{SourceID: chunk.SourceID, Title: title})
		}
	}

	return PromptContext{
		ContextBlock: builder.String(),
		Entries:      entries,
		Sources:      citations,
	}
}

// enforceBudget hard-caps the context block. The cap includes the marker, so
// the returned block never exceeds the budget.
func enforceBudget(block string, budget int) (string, bool) {
	if budget <= 0 {
		return "", block != ""
	}
	runes := []rune(block)
	if len(runes) <= budget {
		return block, false
	}

	marker := []rune(truncationMarker)
	keep := budget - len(marker)
	if keep < 0 {
		keep = 0
		marker = marker[:budget]
	}
	return string(runes[:keep]) + string(marker), true
}

// buildPrompt turns the assembled context and question into chat messages.
func buildPrompt(assembled PromptContext, question string) []ChatMessage {
	system := "You answer questions about the user's saved videos and podcasts. " +
		"Base your answer only on the provided context and cite supporting passages " +
		"with their bracket numbers, like [1]. If the context does not contain the " +
		"answer, say so."

	var user strings.Builder
	if assembled.ContextBlock != "" {
		user.WriteString("Context:\n")
		user.WriteString(assembled.ContextBlock)
		user.WriteString("\n\n")
	}
	user.WriteString("Question: ")
	user.WriteString(strings.TrimSpace(question))

	return []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user.String()},
	}
}
