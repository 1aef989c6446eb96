package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"anchor-backend/internal/engine"
	"anchor-backend/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Property string `json:"property,omitempty"`
	Message  string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// ErrorHandler is the Fiber error handler. Domain sentinels are mapped to
// their HTTP shape here so handlers can return them directly.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(404).JSON(ErrorResponse{
			Error: &AppError{Code: "NOT_FOUND", Message: "Record not found"},
		})
	case errors.Is(err, engine.ErrChildObject):
		return c.Status(409).JSON(ErrorResponse{
			Error: &AppError{Code: "CHILD_OBJECT", Message: "Operation is only valid on an aggregate root"},
		})
	case errors.Is(err, engine.ErrNotSavable):
		return c.Status(409).JSON(ErrorResponse{
			Error: &AppError{Code: "NOT_SAVABLE", Message: "Object is not in a savable state"},
		})
	case errors.Is(err, engine.ErrAggregateBoundary):
		return c.Status(409).JSON(ErrorResponse{
			Error: &AppError{Code: "AGGREGATE_BOUNDARY", Message: "Item belongs to a different aggregate"},
		})
	case errors.Is(err, engine.ErrAlreadyMember):
		return c.Status(409).JSON(ErrorResponse{
			Error: &AppError{Code: "ALREADY_MEMBER", Message: "Item is already a member of this aggregate"},
		})
	case errors.Is(err, engine.ErrReadOnly):
		return c.Status(409).JSON(ErrorResponse{
			Error: &AppError{Code: "READ_ONLY", Message: "Property is read-only"},
		})
	case errors.Is(err, engine.ErrTerminal):
		return c.Status(410).JSON(ErrorResponse{
			Error: &AppError{Code: "GONE", Message: "Object has been deleted"},
		})
	}

	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: &AppError{Code: "REQUEST_FAILED", Message: fiberErr.Message},
		})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
