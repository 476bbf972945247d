package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScheduledSend stores the parameters of a recurring send.
type ScheduledSend struct {
	ID            int64
	Name          string
	CronSpec      string
	TemplateID    int64
	Channel       Channel
	Receivers     []string
	Variables     []map[string]string
	Sender        string
	VariableCount int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s ScheduledSend) Validate() error {
	if strings.TrimSpace(s.CronSpec) == "" {
		return fmt.Errorf("%w: cron spec is required", ErrValidation)
	}
	if s.TemplateID <= 0 {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	return nil
}

// Request rebuilds the send request the schedule fires.
func (s ScheduledSend) Request() SendRequest {
	return SendRequest{
		TemplateID:    s.TemplateID,
		Channel:       s.Channel,
		Receivers:     append([]string(nil), s.Receivers...),
		Variables:     s.Variables,
		Sender:        s.Sender,
		VariableCount: s.VariableCount,
	}
}

// DeliveryLog is the persisted form of a DeliveryOutcome.
type DeliveryLog struct {
	ID                string
	TaskID            string
	MessageID         string
	DedupKey          string
	Channel           Channel
	Attempt           int
	Success           bool
	ProviderMessageID *string
	FailureCause      *string
	RetryScheduled    bool
	Terminal          bool
	CreatedAt         time.Time
}
