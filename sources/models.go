package sources

import "time"

// Kind classifies where a source's content came from.
type Kind string

const (
	KindVideo   Kind = "video"
	KindPodcast Kind = "podcast"
	KindUpload  Kind = "upload"
)

// Source is one ingested piece of content owned by a user. Rows are created
// once after acquisition succeeds and never updated; deleting a source cascades
// to its chunks through the vector store.
type Source struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_user_url,priority:1;index" json:"user_id"`
	Title     string    `gorm:"size:300;not null" json:"title"`
	URL       string    `gorm:"size:500;not null;uniqueIndex:idx_user_url,priority:2" json:"url"`
	Kind      Kind      `gorm:"size:16;not null" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

func (Source) TableName() string {
	return "sources"
}
