// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/Kotodama/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// ApplicationRepository defines operations for applications, including the
// durable side of chat-number sequencing.
type ApplicationRepository interface {
	Repository[models.Application, models.ApplicationFilter]
	ByToken(ctx context.Context, token string) (*models.Application, error)
	// ChatsCount reads the durable chat counter. The bool reports whether the
	// application row exists.
	ChatsCount(ctx context.Context, id uint) (int64, bool, error)
	// CompareAndSwapChatsCount commits next to the durable counter under a
	// row lock, but only if the counter still holds current. On a miss it
	// returns swapped=false together with the value actually stored, so the
	// caller can recompute without another round trip.
	CompareAndSwapChatsCount(ctx context.Context, id uint, current, next int64) (swapped bool, stored int64, err error)
	// HasChats reports whether any chat rows reference the application.
	HasChats(ctx context.Context, id uint) (bool, error)
	Delete(ctx context.Context, id uint) error
}

// ChatRepository defines operations for chats. A chat is both a numbered
// child of an application and the counting parent of messages.
type ChatRepository interface {
	Repository[models.Chat, models.ChatFilter]
	ByApplicationAndNumber(ctx context.Context, applicationID uint, number int64) (*models.Chat, error)
	ListByApplication(ctx context.Context, applicationID uint, limit, offset int) ([]*models.Chat, error)
	// SaveIfAbsent inserts the chat with its pre-reserved number. A conflict
	// on (application_id, number) is reported as created=false, not an error,
	// so redelivered creation jobs are safe to replay.
	SaveIfAbsent(ctx context.Context, chat *models.Chat) (created bool, err error)
	MessagesCount(ctx context.Context, id uint) (int64, bool, error)
	CompareAndSwapMessagesCount(ctx context.Context, id uint, current, next int64) (swapped bool, stored int64, err error)
	HasMessages(ctx context.Context, id uint) (bool, error)
	Delete(ctx context.Context, id uint) error
}

// MessageRepository defines operations for messages
type MessageRepository interface {
	Repository[models.Message, models.MessageFilter]
	ByChatAndNumber(ctx context.Context, chatID uint, number int64) (*models.Message, error)
	ListByChat(ctx context.Context, chatID uint, limit, offset int) ([]*models.Message, error)
	ByIDs(ctx context.Context, ids []uint) ([]*models.Message, error)
	SaveIfAbsent(ctx context.Context, message *models.Message) (created bool, err error)
	Delete(ctx context.Context, id uint) error
}
