package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the vector store adapter: it embeds and persists transcript chunks
// per user/source and answers nearest-neighbor queries scoped to one user.
// Cross-user leakage is prevented twice, by the per-user collection and by the
// user_id payload filter.
type Store struct {
	db       *gorm.DB
	embedder Embedder
	vectors  *qdrantClient
	chunker  *chunker
}

func NewStoreFromEnv(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}

	embedder, err := NewHTTPEmbedderFromEnv()
	if err != nil {
		return nil, err
	}

	vectors, err := newQdrantClientFromEnv()
	if err != nil {
		return nil, err
	}

	chunkSize := 1000
	if raw := strings.TrimSpace(os.Getenv("CHUNK_SIZE_CHARS")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 100 {
			chunkSize = parsed
		}
	}
	overlap := chunkSize / 5
	if raw := strings.TrimSpace(os.Getenv("CHUNK_OVERLAP_CHARS")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed >= 0 && parsed < chunkSize {
			overlap = parsed
		}
	}

	return &Store{
		db:       db,
		embedder: embedder,
		vectors:  vectors,
		chunker:  newChunker(chunkSize, overlap),
	}, nil
}

// OpenStoreFromEnv opens the database from environment configuration, runs
// migrations, and returns a ready Store.
func OpenStoreFromEnv() (*Store, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := NewStoreFromEnv(db)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) AutoMigrate() error {
	if s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}
	return s.db.AutoMigrate(&Chunk{})
}

// IngestTranscript splits a transcript and stores every chunk in one batch.
// Each chunk carries an approximate timestamp derived from its ordinal.
func (s *Store) IngestTranscript(ctx context.Context, userID, sourceID, kind, sourceURL, transcript string) (int, error) {
	texts := s.chunker.split(transcript)
	if len(texts) == 0 {
		return 0, errors.New("knowledge: transcript is too short to chunk")
	}

	metas := make([]ChunkMeta, len(texts))
	for i := range texts {
		metas[i] = ChunkMeta{
			Kind:       kind,
			URL:        sourceURL,
			ChunkIndex: i,
			Timestamp:  fmt.Sprintf("%ds", i*30),
		}
	}

	if err := s.AddChunks(ctx, userID, sourceID, texts, metas); err != nil {
		return 0, err
	}
	return len(texts), nil
}

// AddChunks embeds and persists a batch of chunks. It fails before writing
// anything when the text and metadata counts disagree; ordinals are assigned
// 0..n-1 in input order.
func (s *Store) AddChunks(ctx context.Context, userID, sourceID string, texts []string, metas []ChunkMeta) error {
	if s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}
	if len(texts) == 0 {
		return errors.New("knowledge: no chunk texts provided")
	}
	if len(metas) != len(texts) {
		return fmt.Errorf("knowledge: metadata count %d does not match text count %d", len(metas), len(texts))
	}

	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(texts) {
		return fmt.Errorf("knowledge: embedding count mismatch (expected %d, got %d)", len(texts), len(embeddings))
	}

	collection := s.collectionName(userID)
	vectorSize := 0
	if len(embeddings) > 0 {
		vectorSize = len(embeddings[0])
	}
	if err := s.vectors.EnsureCollection(ctx, collection, vectorSize); err != nil {
		return err
	}

	vectorIDs := make([]string, len(texts))
	rows := make([]Chunk, len(texts))
	points := make([]qdrantPoint, len(texts))
	for i, text := range texts {
		vectorIDs[i] = uuid.NewString()
		rows[i] = Chunk{
			UserID:     userID,
			SourceID:   sourceID,
			Seq:        i,
			Text:       text,
			VectorID:   vectorIDs[i],
			TokenCount: estimateTokenCount(text),
			Meta:       metas[i].toJSON(),
		}
		points[i] = qdrantPoint{
			ID:     vectorIDs[i],
			Vector: embeddings[i],
			Payload: map[string]any{
				"user_id":     userID,
				"source_id":   sourceID,
				"kind":        metas[i].Kind,
				"url":         metas[i].URL,
				"chunk_index": metas[i].ChunkIndex,
				"timestamp":   metas[i].Timestamp,
				"text":        text,
			},
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.vectors.UpsertPoints(ctx, collection, points); err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			if cleanupErr := s.vectors.DeletePoints(ctx, collection, vectorIDs); cleanupErr != nil {
				log.Printf("knowledge: cleanup qdrant points failed: %v", cleanupErr)
			}
			return err
		}
		return nil
	})
}

// Search returns at most k chunks for the user, ordered by descending
// similarity.
func (s *Store) Search(ctx context.Context, userID, query string, k int) ([]ScoredChunk, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	embeddings, err := s.embedder.Embed(ctx, []string{trimmed})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	filter := map[string]any{
		"must": []map[string]any{
			{"key": "user_id", "match": map[string]any{"value": userID}},
		},
	}

	hits, err := s.vectors.Search(ctx, s.collectionName(userID), embeddings[0], k, filter)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunk := ScoredChunk{Score: hit.Score}
		if hit.Payload != nil {
			if v, ok := hit.Payload["source_id"].(string); ok {
				chunk.SourceID = v
			}
			if v, ok := hit.Payload["text"].(string); ok {
				chunk.Text = v
			}
			if v, ok := hit.Payload["chunk_index"].(float64); ok {
				chunk.Seq = int(v)
			}
			chunk.Meta = ChunkMeta{
				ChunkIndex: chunk.Seq,
				Kind:       payloadString(hit.Payload, "kind"),
				URL:        payloadString(hit.Payload, "url"),
				Timestamp:  payloadString(hit.Payload, "timestamp"),
			}
		}
		if chunk.SourceID == "" {
			continue
		}
		results = append(results, chunk)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// CountChunks reports how many chunks a source currently holds.
func (s *Store) CountChunks(ctx context.Context, userID, sourceID string) (int, error) {
	if s.db == nil {
		return 0, errors.New("knowledge: database connection is not configured")
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Chunk{}).
		Where("user_id = ? AND source_id = ?", userID, sourceID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteBySource removes a source's chunks from both stores.
func (s *Store) DeleteBySource(ctx context.Context, userID, sourceID string) error {
	if s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}

	collection := s.collectionName(userID)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vectorIDs []string
		if err := tx.Model(&Chunk{}).
			Where("user_id = ? AND source_id = ?", userID, sourceID).
			Pluck("vector_id", &vectorIDs).Error; err != nil {
			return err
		}
		if len(vectorIDs) > 0 {
			if err := s.vectors.DeletePoints(ctx, collection, vectorIDs); err != nil {
				return err
			}
		}
		return tx.Where("user_id = ? AND source_id = ?", userID, sourceID).Delete(&Chunk{}).Error
	})
}

func (s *Store) collectionName(userID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, userID)
	if sanitized == "" {
		sanitized = "anonymous"
	}
	return "user_" + sanitized + "_chunks"
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// DecodeMeta parses a stored metadata blob back into the closed struct.
func DecodeMeta(raw []byte) ChunkMeta {
	var meta ChunkMeta
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ChunkMeta{}
	}
	return meta
}
