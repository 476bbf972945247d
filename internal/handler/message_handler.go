package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/transport"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserType = "X-User-Type"
)

type MessageService interface {
	Send(ctx context.Context, caller domain.Caller, req domain.SendRequest) domain.Result
	SendScheduled(ctx context.Context, caller domain.Caller, id int64) domain.Result
	Recall(ctx context.Context, messageID string) domain.Result
}

type MessageHandler struct {
	service MessageService
}

func NewMessageHandler(service MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService) error {
	h, err := NewMessageHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.Send)
	v1.Post("/messages/scheduled/:id", h.SendScheduled)
	v1.Post("/messages/:messageId/recall", h.Recall)

	return nil
}

// sendMessageRequest accepts the channel as a numeric id or a channel name.
type sendMessageRequest struct {
	TemplateID    int64               `json:"templateId"`
	Channel       json.RawMessage     `json:"channel"`
	Receivers     []string            `json:"receivers"`
	Variables     []map[string]string `json:"variables"`
	Sender        string              `json:"sender"`
	VariableCount int                 `json:"variableCount"`
	DryRun        bool                `json:"dryRun"`
}

func (h *MessageHandler) Send(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sendReq, err := toSendRequest(req)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	caller, err := callerFromRequest(c)
	if err != nil {
		return err
	}

	result := h.service.Send(requestContext(c), caller, sendReq)
	return writeResult(c, result)
}

func (h *MessageHandler) SendScheduled(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid scheduled send id")
	}

	caller, err := callerFromRequest(c)
	if err != nil {
		return err
	}

	result := h.service.SendScheduled(requestContext(c), caller, id)
	return writeResult(c, result)
}

func (h *MessageHandler) Recall(c *fiber.Ctx) error {
	result := h.service.Recall(requestContext(c), c.Params("messageId"))
	return writeResult(c, result)
}

func toSendRequest(req sendMessageRequest) (domain.SendRequest, error) {
	ch, err := parseChannelField(req.Channel)
	if err != nil {
		return domain.SendRequest{}, err
	}

	return domain.SendRequest{
		TemplateID:    req.TemplateID,
		Channel:       ch,
		Receivers:     req.Receivers,
		Variables:     req.Variables,
		Sender:        strings.TrimSpace(req.Sender),
		VariableCount: req.VariableCount,
		DryRun:        req.DryRun,
	}, nil
}

func parseChannelField(raw json.RawMessage) (domain.Channel, error) {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return 0, nil
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		value = name
	}

	ch, err := domain.ParseChannel(value)
	if err != nil {
		return 0, fmt.Errorf("invalid channel: %s", value)
	}
	return ch, nil
}

func callerFromRequest(c *fiber.Ctx) (domain.Caller, error) {
	caller := domain.Caller{
		UserID:   strings.TrimSpace(c.Get(HeaderUserID)),
		ClientIP: c.IP(),
	}

	if raw := strings.TrimSpace(c.Get(HeaderUserType)); raw != "" {
		userType, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Caller{}, fiber.NewError(fiber.StatusBadRequest, "invalid "+HeaderUserType+" header")
		}
		caller.UserType = userType
	}

	return caller, nil
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func writeResult(c *fiber.Ctx, result domain.Result) error {
	return c.Status(transport.StatusForResult(result)).JSON(result)
}
