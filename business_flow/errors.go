// Package businessflow contains the core business logic for entity sequencing and creation
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Entity lookup errors
	ErrApplicationNotFound = errors.New("application not found")
	ErrChatNotFound        = errors.New("chat not found")
	ErrMessageNotFound     = errors.New("message not found")

	// Sequencing errors
	ErrLockTimeout        = errors.New("sequence lock wait timed out")
	ErrCounterPersistence = errors.New("failed to persist sequence counter")

	// Creation pipeline errors
	ErrQueueUnavailable = errors.New("creation queue unavailable")

	// Validation errors
	ErrApplicationNameRequired = errors.New("application name is required")
	ErrMessageTextRequired     = errors.New("message text is required")

	// Deletion errors (parents with live children are never cascaded)
	ErrApplicationHasChats = errors.New("application still has chats")
	ErrChatHasMessages     = errors.New("chat still has messages")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func IsApplicationNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound)
}

func IsChatNotFound(err error) bool {
	return errors.Is(err, ErrChatNotFound)
}

func IsMessageNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound)
}

func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

func IsCounterPersistence(err error) bool {
	return errors.Is(err, ErrCounterPersistence)
}

func IsQueueUnavailable(err error) bool {
	return errors.Is(err, ErrQueueUnavailable)
}

func IsApplicationNameRequired(err error) bool {
	return errors.Is(err, ErrApplicationNameRequired)
}

func IsMessageTextRequired(err error) bool {
	return errors.Is(err, ErrMessageTextRequired)
}

func IsApplicationHasChats(err error) bool {
	return errors.Is(err, ErrApplicationHasChats)
}

func IsChatHasMessages(err error) bool {
	return errors.Is(err, ErrChatHasMessages)
}
