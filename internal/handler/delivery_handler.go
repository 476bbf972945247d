package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// DeliveryLogReader lists the recorded outcomes of one message.
type DeliveryLogReader interface {
	ListByMessageID(ctx context.Context, messageID string) ([]domain.DeliveryLog, error)
}

type DeliveryHandler struct {
	logs DeliveryLogReader
}

func NewDeliveryHandler(logs DeliveryLogReader) (*DeliveryHandler, error) {
	if logs == nil {
		return nil, fmt.Errorf("delivery log reader is required")
	}
	return &DeliveryHandler{logs: logs}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, logs DeliveryLogReader) error {
	h, err := NewDeliveryHandler(logs)
	if err != nil {
		return err
	}

	router.Get("/v1/messages/:messageId/deliveries", h.List)
	return nil
}

type deliveryResponse struct {
	TaskID            string    `json:"taskId"`
	Channel           string    `json:"channel"`
	Attempt           int       `json:"attempt"`
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	FailureCause      string    `json:"failureCause,omitempty"`
	RetryScheduled    bool      `json:"retryScheduled"`
	Terminal          bool      `json:"terminal"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (h *DeliveryHandler) List(c *fiber.Ctx) error {
	messageID := strings.TrimSpace(c.Params("messageId"))
	if messageID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "messageId is required")
	}

	logs, err := h.logs.ListByMessageID(requestContext(c), messageID)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "no deliveries recorded for message")
	}

	items := make([]deliveryResponse, 0, len(logs))
	for _, l := range logs {
		items = append(items, toDeliveryResponse(l))
	}

	return c.Status(fiber.StatusOK).JSON(domain.OK(fiber.Map{
		"messageId":  messageID,
		"deliveries": items,
	}))
}

func toDeliveryResponse(l domain.DeliveryLog) deliveryResponse {
	resp := deliveryResponse{
		TaskID:         l.TaskID,
		Channel:        l.Channel.String(),
		Attempt:        l.Attempt,
		Success:        l.Success,
		RetryScheduled: l.RetryScheduled,
		Terminal:       l.Terminal,
		CreatedAt:      l.CreatedAt,
	}
	if l.ProviderMessageID != nil {
		resp.ProviderMessageID = *l.ProviderMessageID
	}
	if l.FailureCause != nil {
		resp.FailureCause = *l.FailureCause
	}
	return resp
}
