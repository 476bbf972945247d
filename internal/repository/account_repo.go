package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"gorm.io/gorm"
)

type AccountRepository interface {
	Create(ctx context.Context, a *domain.Account) error
	Resolve(ctx context.Context, ch domain.Channel, name string) (*domain.Account, error)
}

type GormAccountRepo struct {
	db *gorm.DB
}

func NewGormAccountRepo(db *gorm.DB) *GormAccountRepo {
	return &GormAccountRepo{db: db}
}

func (r *GormAccountRepo) Create(ctx context.Context, a *domain.Account) error {
	model := accountModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if a != nil {
		*a = *accountModelToDomain(model)
	}
	return nil
}

// Resolve finds the account named name on channel ch, falling back to the
// channel's default account.
func (r *GormAccountRepo) Resolve(ctx context.Context, ch domain.Channel, name string) (*domain.Account, error) {
	var model AccountModel

	if name = strings.TrimSpace(name); name != "" {
		err := r.db.WithContext(ctx).
			Where("channel = ? AND name = ?", ch, name).
			First(&model).Error
		if err == nil {
			return accountModelToDomain(&model), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := r.db.WithContext(ctx).
		Where("channel = ? AND is_default = ?", ch, true).
		Order("id ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return accountModelToDomain(&model), nil
}
