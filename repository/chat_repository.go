// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepositoryImpl implements ChatRepository interface
type ChatRepositoryImpl struct {
	*BaseRepository[models.Chat, models.ChatFilter]
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &ChatRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Chat, models.ChatFilter](db),
	}
}

// ByApplicationAndNumber retrieves a chat by its per-application number
func (r *ChatRepositoryImpl) ByApplicationAndNumber(ctx context.Context, applicationID uint, number int64) (*models.Chat, error) {
	db := r.getDB(ctx)

	var chat models.Chat
	err := db.Where("application_id = ? AND number = ?", applicationID, number).Take(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find chat %d of application %d: %w", number, applicationID, err)
	}

	return &chat, nil
}

// ListByApplication retrieves chats of an application ordered by number
func (r *ChatRepositoryImpl) ListByApplication(ctx context.Context, applicationID uint, limit, offset int) ([]*models.Chat, error) {
	db := r.getDB(ctx)

	query := db.Where("application_id = ?", applicationID).Order("number ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var chats []*models.Chat
	err := query.Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats for application %d: %w", applicationID, err)
	}

	return chats, nil
}

// SaveIfAbsent inserts the chat with its pre-reserved number. A conflict on
// (application_id, number) means a redelivered job already persisted the row;
// that is reported as created=false, never as an error.
func (r *ChatRepositoryImpl) SaveIfAbsent(ctx context.Context, chat *models.Chat) (bool, error) {
	db := r.getDB(ctx)

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "application_id"}, {Name: "number"}},
		DoNothing: true,
	}).Create(chat)
	if result.Error != nil {
		return false, fmt.Errorf("failed to save chat %d of application %d: %w", chat.Number, chat.ApplicationID, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// MessagesCount reads the durable message counter for the chat
func (r *ChatRepositoryImpl) MessagesCount(ctx context.Context, id uint) (int64, bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.Chat{}).Select("messages_count").Where("id = ?", id).Take(&count).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read messages count for chat %d: %w", id, err)
	}

	return count, true, nil
}

// CompareAndSwapMessagesCount commits the next counter value under a row lock.
// Mirrors ApplicationRepository.CompareAndSwapChatsCount for the chat level.
func (r *ChatRepositoryImpl) CompareAndSwapMessagesCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	var swapped bool
	var stored int64

	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var chat models.Chat
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&chat, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("chat %d: %w", id, gorm.ErrRecordNotFound)
			}
			return fmt.Errorf("failed to lock chat %d: %w", id, err)
		}

		stored = chat.MessagesCount
		if chat.MessagesCount != current {
			return nil
		}

		if err := db.Model(&models.Chat{}).Where("id = ?", id).
			Updates(map[string]any{"messages_count": next, "updated_at": utils.UTCNow()}).Error; err != nil {
			return fmt.Errorf("failed to update messages count for chat %d: %w", id, err)
		}

		swapped = true
		stored = next
		return nil
	})
	if err != nil {
		return false, 0, err
	}

	return swapped, stored, nil
}

// HasMessages reports whether any message rows reference the chat
func (r *ChatRepositoryImpl) HasMessages(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.Message{}).Where("chat_id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count messages for chat %d: %w", id, err)
	}

	return count > 0, nil
}

// Delete removes a chat row. The application's chat counter is deliberately
// left untouched; numbers are permanent identifiers, not positions.
func (r *ChatRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)

	if err := db.Delete(&models.Chat{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete chat %d: %w", id, err)
	}

	return nil
}

// ByFilter retrieves chats based on filter criteria
func (r *ChatRepositoryImpl) ByFilter(ctx context.Context, filter models.ChatFilter, orderBy string, limit, offset int) ([]*models.Chat, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Chat{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var chats []*models.Chat
	err := query.Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find chats by filter: %w", err)
	}

	return chats, nil
}

// Count returns the number of chats matching the filter
func (r *ChatRepositoryImpl) Count(ctx context.Context, filter models.ChatFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Chat{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count chats: %w", err)
	}

	return count, nil
}

// Exists checks if any chat matching the filter exists
func (r *ChatRepositoryImpl) Exists(ctx context.Context, filter models.ChatFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *ChatRepositoryImpl) applyFilter(query *gorm.DB, filter models.ChatFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}

	if filter.ApplicationID != nil {
		query = query.Where("application_id = ?", *filter.ApplicationID)
	}

	if filter.Number != nil {
		query = query.Where("number = ?", *filter.Number)
	}

	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}

	if filter.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *filter.CreatedBefore)
	}

	return query
}
