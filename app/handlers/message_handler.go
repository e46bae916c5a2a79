package handlers

import (
	"log"

	"github.com/amirphl/Kotodama/app/dto"
	businessflow "github.com/amirphl/Kotodama/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// MessageHandler handles message endpoints nested under a chat
type MessageHandler struct {
	messageFlow businessflow.MessageFlow
	validator   *validator.Validate
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messageFlow businessflow.MessageFlow) *MessageHandler {
	return &MessageHandler{
		messageFlow: messageFlow,
		validator:   validator.New(),
	}
}

func (h *MessageHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *MessageHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateMessage reserves a message number and queues the creation
func (h *MessageHandler) CreateMessage(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	chatNumber, ok := parseNumberParam(c, "number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat number", "INVALID_CHAT_NUMBER", nil)
	}

	var req dto.CreateMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.messageFlow.CreateMessage(createRequestContext(c, "/api/v1/applications/:token/chats/:number/messages"), token, chatNumber, &req)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsChatNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Chat not found", "CHAT_NOT_FOUND", nil)
		}
		if businessflow.IsMessageTextRequired(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Message text is required", "MESSAGE_TEXT_REQUIRED", nil)
		}
		if businessflow.IsLockTimeout(err) {
			return h.ErrorResponse(c, fiber.StatusRequestTimeout, "Message number reservation timed out", "SEQUENCE_LOCK_TIMEOUT", nil)
		}
		if businessflow.IsQueueUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Message creation queue is unavailable", "QUEUE_UNAVAILABLE", nil)
		}

		log.Println("Message creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Message creation failed", "MESSAGE_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusAccepted, "Message creation accepted", result)
}

// ListMessages returns messages of a chat, optionally filtered by keyword
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	chatNumber, ok := parseNumberParam(c, "number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat number", "INVALID_CHAT_NUMBER", nil)
	}

	keyword := c.Query("keyword")
	limit, offset := parsePagination(c)

	result, err := h.messageFlow.ListMessages(createRequestContext(c, "/api/v1/applications/:token/chats/:number/messages"), token, chatNumber, keyword, limit, offset)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsChatNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Chat not found", "CHAT_NOT_FOUND", nil)
		}

		log.Println("Message listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Message listing failed", "MESSAGE_LISTING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Messages retrieved successfully", result)
}

// GetMessage returns a single message by its number
func (h *MessageHandler) GetMessage(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	chatNumber, ok := parseNumberParam(c, "number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat number", "INVALID_CHAT_NUMBER", nil)
	}

	messageNumber, ok := parseNumberParam(c, "message_number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid message number", "INVALID_MESSAGE_NUMBER", nil)
	}

	result, err := h.messageFlow.GetMessage(createRequestContext(c, "/api/v1/applications/:token/chats/:number/messages/:message_number"), token, chatNumber, messageNumber)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsChatNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Chat not found", "CHAT_NOT_FOUND", nil)
		}
		if businessflow.IsMessageNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Message not found", "MESSAGE_NOT_FOUND", nil)
		}

		log.Println("Message lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Message lookup failed", "MESSAGE_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Message retrieved successfully", result)
}

// DeleteMessage removes a message without renumbering its siblings
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	chatNumber, ok := parseNumberParam(c, "number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat number", "INVALID_CHAT_NUMBER", nil)
	}

	messageNumber, ok := parseNumberParam(c, "message_number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid message number", "INVALID_MESSAGE_NUMBER", nil)
	}

	err := h.messageFlow.DeleteMessage(createRequestContext(c, "/api/v1/applications/:token/chats/:number/messages/:message_number"), token, chatNumber, messageNumber)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsChatNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Chat not found", "CHAT_NOT_FOUND", nil)
		}
		if businessflow.IsMessageNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Message not found", "MESSAGE_NOT_FOUND", nil)
		}

		log.Println("Message deletion failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Message deletion failed", "MESSAGE_DELETION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Message deleted successfully", nil)
}
