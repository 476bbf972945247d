package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	webhookSenderName     = "webhook"
)

type webhookRequest struct {
	MessageID string            `json:"messageId"`
	TaskID    string            `json:"taskId"`
	Channel   string            `json:"channel"`
	To        []string          `json:"to"`
	Content   string            `json:"content"`
	Variables map[string]string `json:"variables,omitempty"`
}

// WebhookSender posts tasks as JSON to an HTTP endpoint. The account's
// endpoint wins over the sender default; the account token, when set, is
// sent as a bearer token.
type WebhookSender struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookSender(endpoint string) (*WebhookSender, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookSenderWithClient(endpoint, client)
}

// NewWebhookSenderWithClient accepts an empty default endpoint, in which
// case every account must carry its own.
func NewWebhookSenderWithClient(endpoint string, client *resty.Client) (*WebhookSender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint != "" {
		if err := validateEndpoint(trimmedEndpoint); err != nil {
			return nil, err
		}
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookSender{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func validateEndpoint(endpoint string) error {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	return nil
}

var _ Sender = (*WebhookSender)(nil)

func (p *WebhookSender) Send(ctx context.Context, account domain.Account, delivery domain.Delivery) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("provider is not initialized")
	}

	endpoint := strings.TrimSpace(account.Endpoint)
	if endpoint == "" {
		endpoint = p.endpoint
	}
	if endpoint == "" {
		return "", &ProviderError{Sender: webhookSenderName, Message: "no webhook endpoint configured", Transient: false}
	}
	if err := validateEndpoint(endpoint); err != nil {
		return "", &ProviderError{Sender: webhookSenderName, Message: "account endpoint is invalid", Transient: false, Cause: err}
	}

	task := delivery.Task
	reqBody := webhookRequest{
		MessageID: task.MessageID,
		TaskID:    task.TaskID,
		Channel:   delivery.Channel.String(),
		To:        task.Recipients,
		Content:   task.TemplateContent,
		Variables: task.Variables,
	}

	request := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", task.DedupKey).
		SetBody(reqBody)
	if token := strings.TrimSpace(account.Token); token != "" {
		request.SetAuthToken(token)
	}

	response, err := request.Post(endpoint)
	if err != nil {
		return "", &ProviderError{
			Sender:    webhookSenderName,
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return "", &ProviderError{
			Sender:    webhookSenderName,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return providerMessageID(response), nil
	}

	return "", &ProviderError{
		Sender:     webhookSenderName,
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
