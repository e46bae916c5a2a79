package handlers

import (
	"log"

	"github.com/amirphl/Kotodama/app/dto"
	businessflow "github.com/amirphl/Kotodama/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ApplicationHandler handles application endpoints
type ApplicationHandler struct {
	applicationFlow businessflow.ApplicationFlow
	validator       *validator.Validate
}

// NewApplicationHandler creates a new application handler
func NewApplicationHandler(applicationFlow businessflow.ApplicationFlow) *ApplicationHandler {
	return &ApplicationHandler{
		applicationFlow: applicationFlow,
		validator:       validator.New(),
	}
}

func (h *ApplicationHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ApplicationHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateApplication handles creation of a root application
func (h *ApplicationHandler) CreateApplication(c fiber.Ctx) error {
	var req dto.CreateApplicationRequest
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

	result, err := h.applicationFlow.CreateApplication(createRequestContext(c, "/api/v1/applications"), &req)
	if err != nil {
		if businessflow.IsApplicationNameRequired(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Application name is required", "APPLICATION_NAME_REQUIRED", nil)
		}

		log.Println("Application creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Application creation failed", "APPLICATION_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Application created successfully", result)
}

// GetApplication returns a single application by token
func (h *ApplicationHandler) GetApplication(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	result, err := h.applicationFlow.GetApplication(createRequestContext(c, "/api/v1/applications/:token"), token)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}

		log.Println("Application lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Application lookup failed", "APPLICATION_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Application retrieved successfully", result)
}

// ListApplications returns applications with pagination
func (h *ApplicationHandler) ListApplications(c fiber.Ctx) error {
	limit, offset := parsePagination(c)

	result, err := h.applicationFlow.ListApplications(createRequestContext(c, "/api/v1/applications"), limit, offset)
	if err != nil {
		log.Println("Application listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Application listing failed", "APPLICATION_LISTING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Applications retrieved successfully", result)
}

// DeleteApplication removes an application without chats
func (h *ApplicationHandler) DeleteApplication(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Application token is required", "MISSING_APPLICATION_TOKEN", nil)
	}

	err := h.applicationFlow.DeleteApplication(createRequestContext(c, "/api/v1/applications/:token"), token)
	if err != nil {
		if businessflow.IsApplicationNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
		}
		if businessflow.IsApplicationHasChats(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Application still has chats", "APPLICATION_HAS_CHATS", nil)
		}

		log.Println("Application deletion failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Application deletion failed", "APPLICATION_DELETION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Application deleted successfully", nil)
}
