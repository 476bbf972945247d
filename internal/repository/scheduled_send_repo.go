package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"gorm.io/gorm"
)

type ScheduledSendRepository interface {
	Create(ctx context.Context, s *domain.ScheduledSend) error
	GetByID(ctx context.Context, id int64) (*domain.ScheduledSend, error)
	ListActive(ctx context.Context) ([]domain.ScheduledSend, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type GormScheduledSendRepo struct {
	db *gorm.DB
}

func NewGormScheduledSendRepo(db *gorm.DB) *GormScheduledSendRepo {
	return &GormScheduledSendRepo{db: db}
}

func (r *GormScheduledSendRepo) Create(ctx context.Context, s *domain.ScheduledSend) error {
	if s == nil {
		return domain.ErrValidation
	}
	if err := s.Validate(); err != nil {
		return err
	}

	model := scheduledSendModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*s = *scheduledSendModelToDomain(model)
	return nil
}

func (r *GormScheduledSendRepo) GetByID(ctx context.Context, id int64) (*domain.ScheduledSend, error) {
	var model ScheduledSendModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduledSendModelToDomain(&model), nil
}

func (r *GormScheduledSendRepo) ListActive(ctx context.Context) ([]domain.ScheduledSend, error) {
	var models []ScheduledSendModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	schedules := make([]domain.ScheduledSend, 0, len(models))
	for i := range models {
		schedules = append(schedules, *scheduledSendModelToDomain(&models[i]))
	}
	return schedules, nil
}

func (r *GormScheduledSendRepo) SetActive(ctx context.Context, id int64, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduledSendModel{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
