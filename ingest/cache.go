package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	transcriptCacheTTL     = 7 * 24 * time.Hour
	transcriptCacheTimeout = 500 * time.Millisecond
)

// transcriptCache remembers acquired transcripts by origin URL so a second
// user ingesting the same episode skips the whole fallback chain.
type transcriptCache struct {
	client *redis.Client
}

func newTranscriptCache(client *redis.Client) *transcriptCache {
	if client == nil {
		return nil
	}
	return &transcriptCache{client: client}
}

func (c *transcriptCache) key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "ingest:transcript:" + hex.EncodeToString(sum[:16])
}

type cachedTranscript struct {
	Transcript string `json:"transcript"`
	Title      string `json:"title"`
	Quality    string `json:"quality"`
	Summary    string `json:"summary,omitempty"`
}

func (c *transcriptCache) get(ctx context.Context, rawURL string) (*Result, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, transcriptCacheTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(rawURL)).Bytes()
	if err != nil {
		return nil, false
	}

	var cached cachedTranscript
	if err := json.Unmarshal(raw, &cached); err != nil || cached.Transcript == "" {
		return nil, false
	}
	return &Result{
		Transcript: cached.Transcript,
		Title:      cached.Title,
		Quality:    cached.Quality,
		Summary:    cached.Summary,
	}, true
}

func (c *transcriptCache) set(ctx context.Context, rawURL string, result *Result) {
	if c == nil || c.client == nil || result == nil {
		return
	}

	raw, err := json.Marshal(cachedTranscript{
		Transcript: result.Transcript,
		Title:      result.Title,
		Quality:    result.Quality,
		Summary:    result.Summary,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, transcriptCacheTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(rawURL), raw, transcriptCacheTTL).Err(); err != nil {
		log.Printf("ingest: write transcript cache: %v", err)
	}
}
