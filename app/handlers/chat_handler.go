package handlers

import (
	"log"

	"github.com/amirphl/Kotodama/app/dto"
	businessflow "github.com/amirphl/Kotodama/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ChatHandler handles chat endpoints nested under an application
type ChatHandler struct {
	chatFlow  businessflow.ChatFlow
	validator *validator.Validate
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatFlow businessflow.ChatFlow) *ChatHandler {
	return &ChatHandler{
		chatFlow:  chatFlow,
		validator: validator.New(),
	}
}

func (h *ChatHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ChatHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateChat reserves a chat number and queues the creation
func (h *ChatHandler) CreateChat(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	result, err := h.chatFlow.CreateChat(createRequestContext(c, "/api/v1/applications/:token/chats"), token)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsLockTimeout(err) {
			return h.ErrorResponse(c, fiber.StatusRequestTimeout, "Chat number reservation timed out", "SEQUENCE_LOCK_TIMEOUT", nil)
		}
		if businessflow.IsQueueUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Chat creation queue is unavailable", "QUEUE_UNAVAILABLE", nil)
		}

		log.Println("Chat creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Chat creation failed", "CHAT_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusAccepted, "Chat creation accepted", result)
}

// ListChats returns chats of an application with pagination
func (h *ChatHandler) ListChats(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	limit, offset := parsePagination(c)

	result, err := h.chatFlow.ListChats(createRequestContext(c, "/api/v1/applications/:token/chats"), token, limit, offset)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}

		log.Println("Chat listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Chat listing failed", "CHAT_LISTING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Chats retrieved successfully", result)
}

// GetChat returns a single chat by its number
func (h *ChatHandler) GetChat(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	number, ok := parseNumberParam(c, "number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat number", "INVALID_CHAT_NUMBER", nil)
	}

	result, err := h.chatFlow.GetChat(createRequestContext(c, "/api/v1/applications/:token/chats/:number"), token, number)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsChatNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Chat not found", "CHAT_NOT_FOUND", nil)
		}

		log.Println("Chat lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Chat lookup failed", "CHAT_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Chat retrieved successfully", result)
}

// DeleteChat removes a chat without messages
func (h *ChatHandler) DeleteChat(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	number, ok := parseNumberParam(c, "number")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat number", "INVALID_CHAT_NUMBER", nil)
	}

	err := h.chatFlow.DeleteChat(createRequestContext(c, "/api/v1/applications/:token/chats/:number"), token, number)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsChatNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Chat not found", "CHAT_NOT_FOUND", nil)
		}
		if businessflow.IsChatHasMessages(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Chat still has messages", "CHAT_HAS_MESSAGES", nil)
		}

		log.Println("Chat deletion failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Chat deletion failed", "CHAT_DELETION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Chat deleted successfully", nil)
}
