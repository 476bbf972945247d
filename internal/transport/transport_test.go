package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

func TestStatusForResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		result domain.Result
		want   int
	}{
		{result: domain.OK(nil), want: fiber.StatusAccepted},
		{result: domain.Fail(domain.CodeReceiverEmpty, ""), want: fiber.StatusBadRequest},
		{result: domain.Fail(domain.CodeIllegalRecipient, ""), want: fiber.StatusBadRequest},
		{result: domain.Fail(domain.CodeTemplateNotFound, ""), want: fiber.StatusNotFound},
		{result: domain.Fail(domain.CodeScheduledSendNotFound, ""), want: fiber.StatusNotFound},
		{result: domain.Fail(domain.CodeRepeatedRequest, ""), want: fiber.StatusConflict},
		{result: domain.Fail(domain.CodeTooManyRequests, ""), want: fiber.StatusTooManyRequests},
		{result: domain.Fail(domain.CodeQueuePublishFailed, ""), want: fiber.StatusServiceUnavailable},
		{result: domain.Fail(domain.CodeInternal, ""), want: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusForResult(tt.result); got != tt.want {
			t.Fatalf("StatusForResult(%s) = %d, want %d", tt.result.Code, got, tt.want)
		}
	}
}

func TestErrorHandlerRendersResult(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/bad", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("database exploded")
	})

	tests := []struct {
		path    string
		status  int
		code    domain.ErrorCode
		message string
	}{
		{path: "/bad", status: fiber.StatusBadRequest, code: domain.CodeBadRequest, message: "invalid request body"},
		{path: "/boom", status: fiber.StatusInternalServerError, code: domain.CodeInternal, message: "internal error"},
		{path: "/missing", status: fiber.StatusNotFound, code: domain.CodeBadRequest},
	}

	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
		if err != nil {
			t.Fatalf("app.Test(%s) error = %v", tt.path, err)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read response body: %v", err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode != tt.status {
			t.Fatalf("%s status = %d, want %d", tt.path, resp.StatusCode, tt.status)
		}

		var result domain.Result
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if result.Success || result.Code != tt.code {
			t.Fatalf("%s result = %+v, want code %s", tt.path, result, tt.code)
		}
		if tt.message != "" && result.Message != tt.message {
			t.Fatalf("%s message = %q, want %q", tt.path, result.Message, tt.message)
		}
	}
}
