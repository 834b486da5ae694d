package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/IA-Academy-Team/checkout-service/models"
)

// AttemptRepository defines data-access operations for checkout attempts.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.CheckoutAttempt) error
	FindByReference(ctx context.Context, reference string) (*models.CheckoutAttempt, error)
	Settle(ctx context.Context, reference, status, transactionID string, at time.Time) error
	ListBySession(ctx context.Context, sessionID string) ([]models.CheckoutAttempt, error)
}

// GormAttemptRepository implements AttemptRepository using GORM.
type GormAttemptRepository struct {
	db *gorm.DB
}

func NewGormAttemptRepository(db *gorm.DB) AttemptRepository {
	return &GormAttemptRepository{db: db}
}

func (r *GormAttemptRepository) Create(ctx context.Context, attempt *models.CheckoutAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *GormAttemptRepository) FindByReference(ctx context.Context, reference string) (*models.CheckoutAttempt, error) {
	var a models.CheckoutAttempt
	if err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// Settle records the terminal status of an opened attempt. Attempts that are
// already settled are left alone.
func (r *GormAttemptRepository) Settle(ctx context.Context, reference, status, transactionID string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.CheckoutAttempt{}).
		Where("reference = ? AND status = ?", reference, models.AttemptStatusOpened).
		Updates(map[string]any{
			"status":         status,
			"transaction_id": transactionID,
			"settled_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormAttemptRepository) ListBySession(ctx context.Context, sessionID string) ([]models.CheckoutAttempt, error) {
	var attempts []models.CheckoutAttempt
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}
