package domain

import (
	"fmt"
	"strings"
)

// SendRequest is the caller-facing unit of work.
type SendRequest struct {
	TemplateID    int64               `json:"templateId"`
	Channel       Channel             `json:"channel"`
	Receivers     []string            `json:"receivers"`
	Variables     []map[string]string `json:"variables,omitempty"`
	Sender        string              `json:"sender,omitempty"`
	VariableCount int                 `json:"variableCount"`
	DryRun        bool                `json:"dryRun,omitempty"`
}

// Caller identifies who issued a request.
type Caller struct {
	UserID   string
	UserType int
	ClientIP string
}

// SendTask is one deliverable unit. Recipients share identical content.
type SendTask struct {
	MessageID       string            `json:"messageId"`
	DedupKey        string            `json:"dedupKey"`
	TaskID          string            `json:"taskId"`
	Recipients      []string          `json:"recipients"`
	TemplateContent string            `json:"templateContent"`
	Variables       map[string]string `json:"variables,omitempty"`
	Attempt         int               `json:"attempt"`
}

// SendBatch is the payload placed on the broker. All tasks share the channel.
type SendBatch struct {
	Channel    Channel    `json:"channel"`
	TemplateID int64      `json:"templateId"`
	Sender     string     `json:"sender,omitempty"`
	Tasks      []SendTask `json:"tasks"`
}

func (b SendBatch) Validate() error {
	if b.Channel <= 0 {
		return fmt.Errorf("%w: channel is required", ErrValidation)
	}
	if len(b.Tasks) == 0 {
		return fmt.Errorf("%w: batch has no tasks", ErrValidation)
	}
	for i, task := range b.Tasks {
		if strings.TrimSpace(task.TaskID) == "" {
			return fmt.Errorf("%w: task %d has no taskId", ErrValidation, i)
		}
		if len(task.Recipients) == 0 {
			return fmt.Errorf("%w: task %s has no recipients", ErrValidation, task.TaskID)
		}
	}
	return nil
}

// Deliveries expands the batch into one Delivery per task.
func (b SendBatch) Deliveries() []Delivery {
	out := make([]Delivery, 0, len(b.Tasks))
	for _, task := range b.Tasks {
		out = append(out, Delivery{
			Channel:    b.Channel,
			TemplateID: b.TemplateID,
			Sender:     b.Sender,
			Task:       task,
		})
	}
	return out
}

// Delivery binds a task to the batch header it was queued under.
type Delivery struct {
	Channel    Channel
	TemplateID int64
	Sender     string
	Task       SendTask
}

// Batch wraps the delivery back into a single-task batch.
func (d Delivery) Batch() SendBatch {
	return SendBatch{
		Channel:    d.Channel,
		TemplateID: d.TemplateID,
		Sender:     d.Sender,
		Tasks:      []SendTask{d.Task},
	}
}

// DeliveryOutcome is the result of handing one task to a channel sender.
type DeliveryOutcome struct {
	TaskID            string
	MessageID         string
	DedupKey          string
	Channel           Channel
	Attempt           int
	Success           bool
	ProviderMessageID string
	FailureCause      error
}

func NewOutcome(d Delivery, providerMessageID string, cause error) DeliveryOutcome {
	return DeliveryOutcome{
		TaskID:            d.Task.TaskID,
		MessageID:         d.Task.MessageID,
		DedupKey:          d.Task.DedupKey,
		Channel:           d.Channel,
		Attempt:           d.Task.Attempt,
		Success:           cause == nil,
		ProviderMessageID: providerMessageID,
		FailureCause:      cause,
	}
}
