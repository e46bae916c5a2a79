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

// ApplicationRepositoryImpl implements ApplicationRepository interface
type ApplicationRepositoryImpl struct {
	*BaseRepository[models.Application, models.ApplicationFilter]
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &ApplicationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Application, models.ApplicationFilter](db),
	}
}

// ByToken retrieves an application by its public token
func (r *ApplicationRepositoryImpl) ByToken(ctx context.Context, token string) (*models.Application, error) {
	db := r.getDB(ctx)

	var app models.Application
	err := db.Where("token = ?", token).Take(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find application by token: %w", err)
	}

	return &app, nil
}

// ChatsCount reads the durable chat counter for the application
func (r *ApplicationRepositoryImpl) ChatsCount(ctx context.Context, id uint) (int64, bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.Application{}).Select("chats_count").Where("id = ?", id).Take(&count).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read chats count for application %d: %w", id, err)
	}

	return count, true, nil
}

// CompareAndSwapChatsCount commits the next counter value under a row lock.
// The swap only happens when the durable counter still holds the expected
// current value; otherwise the caller gets the stored value back and must
// recompute.
func (r *ApplicationRepositoryImpl) CompareAndSwapChatsCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	var swapped bool
	var stored int64

	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var app models.Application
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&app, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("application %d: %w", id, gorm.ErrRecordNotFound)
			}
			return fmt.Errorf("failed to lock application %d: %w", id, err)
		}

		stored = app.ChatsCount
		if app.ChatsCount != current {
			return nil
		}

		if err := db.Model(&models.Application{}).Where("id = ?", id).
			Updates(map[string]any{"chats_count": next, "updated_at": utils.UTCNow()}).Error; err != nil {
			return fmt.Errorf("failed to update chats count for application %d: %w", id, err)
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

// HasChats reports whether any chat rows reference the application
func (r *ApplicationRepositoryImpl) HasChats(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.Chat{}).Where("application_id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count chats for application %d: %w", id, err)
	}

	return count > 0, nil
}

// Delete removes an application row. Callers must reject the delete while
// chats still reference the application; the counter is never reset.
func (r *ApplicationRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)

	if err := db.Delete(&models.Application{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete application %d: %w", id, err)
	}

	return nil
}

// ByFilter retrieves applications based on filter criteria
func (r *ApplicationRepositoryImpl) ByFilter(ctx context.Context, filter models.ApplicationFilter, orderBy string, limit, offset int) ([]*models.Application, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Application{}), filter)

	// Apply ordering (default to id DESC)
	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	// Apply pagination
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var apps []*models.Application
	err := query.Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find applications by filter: %w", err)
	}

	return apps, nil
}

// Count returns the number of applications matching the filter
func (r *ApplicationRepositoryImpl) Count(ctx context.Context, filter models.ApplicationFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Application{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count applications: %w", err)
	}

	return count, nil
}

// Exists checks if any application matching the filter exists
func (r *ApplicationRepositoryImpl) Exists(ctx context.Context, filter models.ApplicationFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *ApplicationRepositoryImpl) applyFilter(query *gorm.DB, filter models.ApplicationFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}

	if filter.Token != nil {
		query = query.Where("token = ?", *filter.Token)
	}

	if filter.Name != nil {
		query = query.Where("name = ?", *filter.Name)
	}

	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}

	if filter.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *filter.CreatedBefore)
	}

	return query
}
