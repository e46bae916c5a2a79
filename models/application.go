package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Application is a root tenant that owns a numbered sequence of chats.
// ChatsCount is the durable chat counter: it equals the count of chats ever
// successfully reserved under this application, not the count currently
// existing (deleting a chat never decrements it).
type Application struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Token      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"token"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	ChatsCount int64     `gorm:"not null;default:0" json:"chats_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relationships
	Chats []Chat `gorm:"foreignKey:ApplicationID" json:"chats,omitempty"`
}

func (Application) TableName() string { return "applications" }

// ApplicationFilter represents filter criteria for application queries
type ApplicationFilter struct {
	ID            *uint      `json:"id,omitempty"`
	Token         *uuid.UUID `json:"token,omitempty"`
	Name          *string    `json:"name,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}

// BeforeCreate ensures the public token is set
func (a *Application) BeforeCreate(tx *gorm.DB) error {
	if a.Token == uuid.Nil {
		a.Token = uuid.New()
	}
	return nil
}
