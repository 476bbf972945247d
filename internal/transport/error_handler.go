package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"go.uber.org/zap"
)

// ErrorHandler renders every unhandled error as a failed Result so clients
// see one response shape.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}

		logger.Error("request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)

		result := domain.Fail(codeForStatus(status), "")
		if fiberErr != nil && status < fiber.StatusInternalServerError {
			result = domain.Fail(codeForStatus(status), fiberErr.Message)
		}
		return c.Status(status).JSON(result)
	}
}

func codeForStatus(status int) domain.ErrorCode {
	switch {
	case status == fiber.StatusTooManyRequests:
		return domain.CodeTooManyRequests
	case status >= fiber.StatusBadRequest && status < fiber.StatusInternalServerError:
		return domain.CodeBadRequest
	default:
		return domain.CodeInternal
	}
}
