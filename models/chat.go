package models

import "time"

// Chat is a numbered child of an Application and the parent of a numbered
// sequence of messages. Number is 1-based, unique within the application,
// assigned exactly once by the sequencer before the row exists, and never
// changed afterwards. The composite unique index is what makes the creation
// worker's insert idempotent under queue redelivery.
type Chat struct {
	ID            uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	ApplicationID uint  `gorm:"not null;index;uniqueIndex:idx_chats_application_number" json:"application_id"`
	Number        int64 `gorm:"not null;uniqueIndex:idx_chats_application_number" json:"number"`
	MessagesCount int64 `gorm:"not null;default:0" json:"messages_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relationships
	Application Application `gorm:"foreignKey:ApplicationID" json:"application,omitempty"`
	Messages    []Message   `gorm:"foreignKey:ChatID" json:"messages,omitempty"`
}

func (Chat) TableName() string { return "chats" }

// ChatFilter represents filter criteria for chat queries
type ChatFilter struct {
	ID            *uint      `json:"id,omitempty"`
	ApplicationID *uint      `json:"application_id,omitempty"`
	Number        *int64     `json:"number,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}
