package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"gorm.io/gorm"
)

type AttemptLogRepository interface {
	Append(ctx context.Context, l *domain.PublishAttemptLog) error
	ListByPostID(ctx context.Context, postID string) ([]domain.PublishAttemptLog, error)
	DeleteByPostID(ctx context.Context, postID string) error
}

type GormAttemptLogRepo struct {
	db *gorm.DB
}

func NewGormAttemptLogRepo(db *gorm.DB) *GormAttemptLogRepo {
	return &GormAttemptLogRepo{db: db}
}

func (r *GormAttemptLogRepo) Append(ctx context.Context, l *domain.PublishAttemptLog) error {
	return appendLog(r.db.WithContext(ctx), l)
}

// ListByPostID returns the post's logs newest first.
func (r *GormAttemptLogRepo) ListByPostID(ctx context.Context, postID string) ([]domain.PublishAttemptLog, error) {
	var models []PostLogModel
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("platform ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.PublishAttemptLog, 0, len(models))
	for i := range models {
		logs = append(logs, *logModelToDomain(&models[i]))
	}
	return logs, nil
}

func (r *GormAttemptLogRepo) DeleteByPostID(ctx context.Context, postID string) error {
	return r.db.WithContext(ctx).Where("post_id = ?", postID).Delete(&PostLogModel{}).Error
}

func appendLog(tx *gorm.DB, l *domain.PublishAttemptLog) error {
	if l == nil {
		return fmt.Errorf("%w: attempt log is required", domain.ErrValidation)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	model, err := logModelFromDomain(l)
	if err != nil {
		return fmt.Errorf("failed to encode platform response: %w", err)
	}
	if err := tx.Create(model).Error; err != nil {
		return err
	}
	*l = *logModelToDomain(model)
	return nil
}
