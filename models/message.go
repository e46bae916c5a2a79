package models

import "time"

// Message is a numbered child of a Chat carrying the searchable text body.
// Number is unique within the chat; the (chat_id, number) unique index makes
// redelivered creation jobs collapse into a single row.
type Message struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID uint   `gorm:"not null;index;uniqueIndex:idx_messages_chat_number" json:"chat_id"`
	Number int64  `gorm:"not null;uniqueIndex:idx_messages_chat_number" json:"number"`
	Text   string `gorm:"type:text;not null" json:"text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relationships
	Chat Chat `gorm:"foreignKey:ChatID" json:"chat,omitempty"`
}

func (Message) TableName() string { return "messages" }

// MessageFilter represents filter criteria for message queries
type MessageFilter struct {
	ID            *uint      `json:"id,omitempty"`
	ChatID        *uint      `json:"chat_id,omitempty"`
	Number        *int64     `json:"number,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}
