package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrInvalidInput        = errors.New("invalid input")
	ErrForbidden           = errors.New("forbidden")
	ErrSendNotAllowed      = errors.New("send not allowed")
	ErrEditLimitExceeded   = errors.New("edit limit exceeded")
	ErrAlreadyDeleted      = errors.New("message already deleted")
	ErrAlreadyPending      = errors.New("friend request already pending")
	ErrAlreadyFriends      = errors.New("already friends")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrNotFound            = errors.New("not found")
)

// HTTPStatus maps a taxonomy error to the status code the API returns.
// StoreUnavailable is the only retryable one and maps to 503.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParticipants):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrSendNotAllowed):
		return fiber.StatusForbidden
	case errors.Is(err, ErrEditLimitExceeded):
		return fiber.StatusConflict
	case errors.Is(err, ErrAlreadyDeleted):
		return fiber.StatusConflict
	case errors.Is(err, ErrAlreadyPending):
		return fiber.StatusConflict
	case errors.Is(err, ErrAlreadyFriends):
		return fiber.StatusConflict
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
