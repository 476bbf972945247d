package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	tele "gopkg.in/telebot.v4"
)

const (
	defaultTelegramTimeout = 10 * time.Second
	telegramSenderName     = "telegram"
)

// TelegramSender delivers chat-bot tasks through the Telegram Bot API.
// Recipients are numeric chat ids.
type TelegramSender struct {
	bot *tele.Bot
}

// NewTelegramSender builds an offline bot: no getMe call is made at startup
// and no updates are polled. apiURL may be empty for the public API.
func NewTelegramSender(token string, apiURL string) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(apiURL),
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: defaultTelegramTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramSender{bot: bot}, nil
}

var _ Sender = (*TelegramSender)(nil)

// Send posts the task content to every recipient chat. It stops at the
// first failing chat and returns the ids of the messages sent so far.
func (s *TelegramSender) Send(ctx context.Context, _ domain.Account, delivery domain.Delivery) (string, error) {
	if s == nil || s.bot == nil {
		return "", fmt.Errorf("provider is not initialized")
	}

	ids := make([]string, 0, len(delivery.Task.Recipients))
	for _, recipient := range delivery.Task.Recipients {
		if err := ctx.Err(); err != nil {
			return strings.Join(ids, ","), err
		}

		chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
		if err != nil {
			return strings.Join(ids, ","), &ProviderError{
				Sender:    telegramSenderName,
				Message:   fmt.Sprintf("invalid telegram chat id %q", recipient),
				Transient: false,
				Cause:     err,
			}
		}

		msg, err := s.bot.Send(&tele.Chat{ID: chatID}, delivery.Task.TemplateContent)
		if err != nil {
			return strings.Join(ids, ","), classifyTelegramError(err)
		}
		ids = append(ids, strconv.Itoa(msg.ID))
	}

	return strings.Join(ids, ","), nil
}

// classifyTelegramError treats client-side API errors as permanent and
// everything else, including flood control, as transient.
func classifyTelegramError(err error) error {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		permanent := apiErr.Code >= http.StatusBadRequest &&
			apiErr.Code < http.StatusInternalServerError &&
			apiErr.Code != http.StatusTooManyRequests
		return &ProviderError{
			Sender:     telegramSenderName,
			StatusCode: apiErr.Code,
			Message:    "telegram api error",
			Transient:  !permanent,
			Cause:      err,
		}
	}

	return &ProviderError{
		Sender:    telegramSenderName,
		Message:   "telegram request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
