package domain

import "time"

// AuditStatus is the review state of a message template.
type AuditStatus int

const (
	AuditWaiting AuditStatus = 10
	AuditPass    AuditStatus = 20
	AuditReject  AuditStatus = 30
)

// Template is a stored message template owned by one channel.
type Template struct {
	ID            int64
	Name          string
	Channel       Channel
	Content       string
	VariableCount int
	AuditStatus   AuditStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (t Template) Approved() bool {
	return t.AuditStatus == AuditPass
}

// Account holds the provider credentials a channel sender uses.
// Name is unique per channel; the IsDefault account answers for an
// unnamed or unknown sender.
type Account struct {
	ID        int64
	Channel   Channel
	Name      string
	Endpoint  string
	Token     string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
