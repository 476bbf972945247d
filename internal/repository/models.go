package repository

import (
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// TemplateModel is the persistence model for the message_templates table.
type TemplateModel struct {
	ID            int64              `gorm:"primaryKey;autoIncrement"`
	Name          string             `gorm:"type:varchar(100);not null"`
	Channel       domain.Channel     `gorm:"not null;index"`
	Content       string             `gorm:"type:text;not null"`
	VariableCount int                `gorm:"not null;default:0"`
	AuditStatus   domain.AuditStatus `gorm:"not null;default:10"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (TemplateModel) TableName() string {
	return "message_templates"
}

// AccountModel is the persistence model for channel_accounts.
type AccountModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	Channel   domain.Channel `gorm:"not null;uniqueIndex:idx_channel_accounts_channel_name"`
	Name      string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_channel_accounts_channel_name"`
	Endpoint  string         `gorm:"type:varchar(512)"`
	Token     string         `gorm:"type:varchar(512)"`
	IsDefault bool           `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AccountModel) TableName() string {
	return "channel_accounts"
}

// ScheduledSendModel is the persistence model for scheduled_sends.
type ScheduledSendModel struct {
	ID            int64               `gorm:"primaryKey;autoIncrement"`
	Name          string              `gorm:"type:varchar(100);not null"`
	CronSpec      string              `gorm:"type:varchar(64);not null"`
	TemplateID    int64               `gorm:"not null"`
	Channel       domain.Channel      `gorm:"not null"`
	Receivers     []string            `gorm:"type:text;serializer:json"`
	Variables     []map[string]string `gorm:"type:text;serializer:json"`
	Sender        string              `gorm:"type:varchar(100)"`
	VariableCount int                 `gorm:"not null;default:0"`
	Active        bool                `gorm:"not null;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ScheduledSendModel) TableName() string {
	return "scheduled_sends"
}

// DeliveryLogModel is the persistence model for delivery_logs.
type DeliveryLogModel struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	TaskID            string         `gorm:"type:varchar(36);not null"`
	MessageID         string         `gorm:"type:varchar(36);not null"`
	DedupKey          string         `gorm:"type:varchar(64)"`
	Channel           domain.Channel `gorm:"not null"`
	Attempt           int            `gorm:"not null"`
	Success           bool           `gorm:"not null"`
	ProviderMessageID *string        `gorm:"type:varchar(255)"`
	FailureCause      *string        `gorm:"type:text"`
	RetryScheduled    bool           `gorm:"not null;default:false"`
	Terminal          bool           `gorm:"not null;default:false"`
	CreatedAt         time.Time
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:            t.ID,
		Name:          t.Name,
		Channel:       t.Channel,
		Content:       t.Content,
		VariableCount: t.VariableCount,
		AuditStatus:   t.AuditStatus,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:            m.ID,
		Name:          m.Name,
		Channel:       m.Channel,
		Content:       m.Content,
		VariableCount: m.VariableCount,
		AuditStatus:   m.AuditStatus,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func accountModelFromDomain(a *domain.Account) *AccountModel {
	if a == nil {
		return nil
	}

	return &AccountModel{
		ID:        a.ID,
		Channel:   a.Channel,
		Name:      a.Name,
		Endpoint:  a.Endpoint,
		Token:     a.Token,
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func accountModelToDomain(m *AccountModel) *domain.Account {
	if m == nil {
		return nil
	}

	return &domain.Account{
		ID:        m.ID,
		Channel:   m.Channel,
		Name:      m.Name,
		Endpoint:  m.Endpoint,
		Token:     m.Token,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func scheduledSendModelFromDomain(s *domain.ScheduledSend) *ScheduledSendModel {
	if s == nil {
		return nil
	}

	return &ScheduledSendModel{
		ID:            s.ID,
		Name:          s.Name,
		CronSpec:      s.CronSpec,
		TemplateID:    s.TemplateID,
		Channel:       s.Channel,
		Receivers:     s.Receivers,
		Variables:     s.Variables,
		Sender:        s.Sender,
		VariableCount: s.VariableCount,
		Active:        s.Active,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func scheduledSendModelToDomain(m *ScheduledSendModel) *domain.ScheduledSend {
	if m == nil {
		return nil
	}

	return &domain.ScheduledSend{
		ID:            m.ID,
		Name:          m.Name,
		CronSpec:      m.CronSpec,
		TemplateID:    m.TemplateID,
		Channel:       m.Channel,
		Receivers:     m.Receivers,
		Variables:     m.Variables,
		Sender:        m.Sender,
		VariableCount: m.VariableCount,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func deliveryLogModelFromDomain(l *domain.DeliveryLog) *DeliveryLogModel {
	if l == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:                l.ID,
		TaskID:            l.TaskID,
		MessageID:         l.MessageID,
		DedupKey:          l.DedupKey,
		Channel:           l.Channel,
		Attempt:           l.Attempt,
		Success:           l.Success,
		ProviderMessageID: l.ProviderMessageID,
		FailureCause:      l.FailureCause,
		RetryScheduled:    l.RetryScheduled,
		Terminal:          l.Terminal,
		CreatedAt:         l.CreatedAt,
	}
}

func deliveryLogModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:                m.ID,
		TaskID:            m.TaskID,
		MessageID:         m.MessageID,
		DedupKey:          m.DedupKey,
		Channel:           m.Channel,
		Attempt:           m.Attempt,
		Success:           m.Success,
		ProviderMessageID: m.ProviderMessageID,
		FailureCause:      m.FailureCause,
		RetryScheduled:    m.RetryScheduled,
		Terminal:          m.Terminal,
		CreatedAt:         m.CreatedAt,
	}
}
