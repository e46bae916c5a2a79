// Package testing provides test utilities and database setup for testing the chat system
package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/Kotodama/models"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestApplication creates a test application with a random name
func (tf *TestFixtures) CreateTestApplication() (*models.Application, error) {
	app := &models.Application{
		Name: fmt.Sprintf("test-app-%06d", rand.Intn(1000000)),
	}

	if err := tf.DB.DB.Create(app).Error; err != nil {
		return nil, fmt.Errorf("failed to create test application: %w", err)
	}

	return app, nil
}

// CreateTestChat creates a test chat under the given application
func (tf *TestFixtures) CreateTestChat(app *models.Application, number int64) (*models.Chat, error) {
	chat := &models.Chat{
		ApplicationID: app.ID,
		Number:        number,
	}

	if err := tf.DB.DB.Create(chat).Error; err != nil {
		return nil, fmt.Errorf("failed to create test chat: %w", err)
	}

	return chat, nil
}

// CreateTestMessage creates a test message under the given chat
func (tf *TestFixtures) CreateTestMessage(chat *models.Chat, number int64, text string) (*models.Message, error) {
	if text == "" {
		text = fmt.Sprintf("test message %d", number)
	}

	msg := &models.Message{
		ChatID: chat.ID,
		Number: number,
		Text:   text,
	}

	if err := tf.DB.DB.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create test message: %w", err)
	}

	return msg, nil
}
