// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kotodama/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepositoryImpl implements MessageRepository interface
type MessageRepositoryImpl struct {
	*BaseRepository[models.Message, models.MessageFilter]
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &MessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Message, models.MessageFilter](db),
	}
}

// ByChatAndNumber retrieves a message by its per-chat number
func (r *MessageRepositoryImpl) ByChatAndNumber(ctx context.Context, chatID uint, number int64) (*models.Message, error) {
	db := r.getDB(ctx)

	var message models.Message
	err := db.Where("chat_id = ? AND number = ?", chatID, number).Take(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find message %d of chat %d: %w", number, chatID, err)
	}

	return &message, nil
}

// ListByChat retrieves messages of a chat ordered by number
func (r *MessageRepositoryImpl) ListByChat(ctx context.Context, chatID uint, limit, offset int) ([]*models.Message, error) {
	db := r.getDB(ctx)

	query := db.Where("chat_id = ?", chatID).Order("number ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var messages []*models.Message
	err := query.Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for chat %d: %w", chatID, err)
	}

	return messages, nil
}

// ByIDs retrieves messages by primary ids, used to hydrate search hits
func (r *MessageRepositoryImpl) ByIDs(ctx context.Context, ids []uint) ([]*models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	db := r.getDB(ctx)

	var messages []*models.Message
	err := db.Where("id IN ?", ids).Order("number ASC").Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages by ids: %w", err)
	}

	return messages, nil
}

// SaveIfAbsent inserts the message with its pre-reserved number. A conflict
// on (chat_id, number) means a redelivered job already persisted the row;
// that is reported as created=false, never as an error.
func (r *MessageRepositoryImpl) SaveIfAbsent(ctx context.Context, message *models.Message) (bool, error) {
	db := r.getDB(ctx)

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "number"}},
		DoNothing: true,
	}).Create(message)
	if result.Error != nil {
		return false, fmt.Errorf("failed to save message %d of chat %d: %w", message.Number, message.ChatID, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// Delete removes a message row. The chat's message counter is deliberately
// left untouched; remaining numbers keep their gaps.
func (r *MessageRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)

	if err := db.Delete(&models.Message{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete message %d: %w", id, err)
	}

	return nil
}

// ByFilter retrieves messages based on filter criteria
func (r *MessageRepositoryImpl) ByFilter(ctx context.Context, filter models.MessageFilter, orderBy string, limit, offset int) ([]*models.Message, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Message{}), filter)

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

	var messages []*models.Message
	err := query.Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages by filter: %w", err)
	}

	return messages, nil
}

// Count returns the number of messages matching the filter
func (r *MessageRepositoryImpl) Count(ctx context.Context, filter models.MessageFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Message{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}

// Exists checks if any message matching the filter exists
func (r *MessageRepositoryImpl) Exists(ctx context.Context, filter models.MessageFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *MessageRepositoryImpl) applyFilter(query *gorm.DB, filter models.MessageFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}

	if filter.ChatID != nil {
		query = query.Where("chat_id = ?", *filter.ChatID)
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
