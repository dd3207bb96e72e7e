package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/services"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// StatusFor maps a lifecycle error kind to its HTTP status.
func StatusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindStateConflict:
		return fiber.StatusConflict
	case services.KindDependency:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	var e *services.Error
	if !errors.As(err, &e) {
		return respondError(c, fiber.StatusInternalServerError, "Internal", "internal error")
	}
	msg := e.Message
	if e.Kind == services.KindDependency {
		msg = "temporarily unavailable, retry later"
	}
	return respondError(c, StatusFor(e.Kind), e.Code, msg)
}

func respondError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: middleware.GetRequestID(c),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respondError(c, fiber.StatusBadRequest, "InvalidRequest", msg)
}

func forbidden(c *fiber.Ctx) error {
	return respondError(c, fiber.StatusForbidden, "Forbidden", "not allowed for this user")
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = defaultLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
