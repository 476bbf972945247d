package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// StatusForResult maps a Result to the HTTP status it is served with.
func StatusForResult(r domain.Result) int {
	if r.Success {
		return fiber.StatusAccepted
	}

	switch r.Code {
	case domain.CodeTemplateNotFound, domain.CodeScheduledSendNotFound:
		return fiber.StatusNotFound
	case domain.CodeRepeatedRequest:
		return fiber.StatusConflict
	case domain.CodeTooManyRequests:
		return fiber.StatusTooManyRequests
	case domain.CodeQueuePublishFailed:
		return fiber.StatusServiceUnavailable
	case domain.CodeTemplateLookupFailed, domain.CodeScheduledSendLoadFailed, domain.CodeInternal:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadRequest
	}
}
