package llm

import (
	"time"

	"gorm.io/datatypes"
)

// Message is one persisted chat turn. History is kept per user rather than
// per conversation; the library itself is the shared context.
type Message struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	UserID    string         `gorm:"size:64;index:idx_messages_user_created,priority:1" json:"user_id"`
	Role      string         `gorm:"size:16" json:"role"`
	Content   string         `gorm:"type:text" json:"content"`
	ModelID   string         `gorm:"size:128" json:"model_id,omitempty"`
	Citations datatypes.JSON `gorm:"type:json" json:"citations,omitempty"`
	CreatedAt time.Time      `gorm:"index:idx_messages_user_created,priority:2" json:"created_at"`
}

func (Message) TableName() string {
	return "chat_messages"
}
