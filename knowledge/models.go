package knowledge

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Chunk mirrors one vector-store point in SQL so ordinals, counts and cascade
// deletes stay queryable without a vector-store round trip. Rows are written
// in one batch per source and never updated.
type Chunk struct {
	ID         uint64         `gorm:"primaryKey" json:"id"`
	UserID     string         `gorm:"size:64;not null;index:idx_user_source,priority:1" json:"user_id"`
	SourceID   string         `gorm:"size:36;not null;index:idx_user_source,priority:2" json:"source_id"`
	Seq        int            `gorm:"not null" json:"seq"`
	Text       string         `gorm:"type:text;not null" json:"text"`
	VectorID   string         `gorm:"size:36;not null;uniqueIndex" json:"vector_id"`
	TokenCount int            `gorm:"not null;default:0" json:"token_count"`
	Meta       datatypes.JSON `gorm:"type:json" json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Chunk) TableName() string {
	return "transcript_chunks"
}

// ChunkMeta is the closed metadata carried with every chunk. Extra exists for
// genuinely optional future fields only.
type ChunkMeta struct {
	Kind       string            `json:"kind"`
	URL        string            `json:"url"`
	ChunkIndex int               `json:"chunk_index"`
	Timestamp  string            `json:"timestamp"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func (m ChunkMeta) toJSON() datatypes.JSON {
	raw, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}

// ScoredChunk is one retrieval hit, ranked by descending similarity.
type ScoredChunk struct {
	SourceID string    `json:"source_id"`
	Seq      int       `json:"seq"`
	Text     string    `json:"text"`
	Score    float64   `json:"score"`
	Meta     ChunkMeta `json:"meta"`
}
