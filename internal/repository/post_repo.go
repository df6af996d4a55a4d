package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type ListParams struct {
	Status   *domain.PostStatus
	Page     int
	PageSize int
}

func (p ListParams) normalized() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

type PostRepository interface {
	Create(ctx context.Context, p *domain.Post) error
	GetByID(ctx context.Context, id string) (*domain.Post, error)
	GetWithLogs(ctx context.Context, id string) (*domain.PostWithLogs, error)
	List(ctx context.Context, params ListParams) ([]domain.Post, int64, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.PostStatus) error
	ResetForRetry(ctx context.Context, id string, platforms []domain.Platform) (*domain.Post, error)
	RecordCycle(ctx context.Context, postID string, logs []domain.PublishAttemptLog, status domain.PostStatus) error
}

type GormPostRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormPostRepo(db *gorm.DB) *GormPostRepo {
	return &GormPostRepo{db: db, now: time.Now}
}

func (r *GormPostRepo) Create(ctx context.Context, p *domain.Post) error {
	if p == nil {
		return fmt.Errorf("%w: post is required", domain.ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PostStatusPending
	}

	model := postModelFromDomain(p)
	if err := r.db.WithContext(ctx).Omit("Logs").Create(model).Error; err != nil {
		return err
	}
	*p = *postModelToDomain(model)
	return nil
}

func (r *GormPostRepo) GetByID(ctx context.Context, id string) (*domain.Post, error) {
	var model PostModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return postModelToDomain(&model), nil
}

// GetWithLogs returns the post with its logs ordered newest first.
func (r *GormPostRepo) GetWithLogs(ctx context.Context, id string) (*domain.PostWithLogs, error) {
	var model PostModel
	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC").Order("platform ASC")
		}).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	out := &domain.PostWithLogs{
		Post: *postModelToDomain(&model),
		Logs: make([]domain.PublishAttemptLog, 0, len(model.Logs)),
	}
	for i := range model.Logs {
		out.Logs = append(out.Logs, *logModelToDomain(&model.Logs[i]))
	}
	return out, nil
}

// List returns one page of posts newest first, plus the total matching count.
func (r *GormPostRepo) List(ctx context.Context, params ListParams) ([]domain.Post, int64, error) {
	params = params.normalized()

	query := r.db.WithContext(ctx).Model(&PostModel{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []PostModel
	err := query.
		Order("created_at DESC").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	posts := make([]domain.Post, 0, len(models))
	for i := range models {
		posts = append(posts, *postModelToDomain(&models[i]))
	}
	return posts, total, nil
}

// Delete removes the post and its logs in one transaction.
func (r *GormPostRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&PostLogModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&PostModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *GormPostRepo) UpdateStatus(ctx context.Context, id string, status domain.PostStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid post status %q", domain.ErrValidation, status)
	}
	return updateStatus(r.db.WithContext(ctx), id, status, r.now().UTC())
}

// ResetForRetry moves a failed post back to pending and clears its logs.
// Posts in any other status are left untouched and yield domain.ErrConflict.
// A non-empty platforms list replaces the stored selection.
func (r *GormPostRepo) ResetForRetry(ctx context.Context, id string, platforms []domain.Platform) (*domain.Post, error) {
	var out *domain.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":     domain.PostStatusPending,
			"updated_at": r.now().UTC(),
		}
		if len(platforms) > 0 {
			updates["platforms"] = domain.JoinPlatforms(platforms)
		}

		result := tx.Model(&PostModel{}).
			Where("id = ? AND status = ?", id, domain.PostStatusFailed).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&PostModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: only failed posts can be retried", domain.ErrConflict)
		}

		if err := tx.Where("post_id = ?", id).Delete(&PostLogModel{}).Error; err != nil {
			return err
		}

		var model PostModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			return err
		}
		out = postModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordCycle replaces the post's logs with the given cycle and sets its
// status, atomically.
func (r *GormPostRepo) RecordCycle(ctx context.Context, postID string, logs []domain.PublishAttemptLog, status domain.PostStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid post status %q", domain.ErrValidation, status)
	}

	now := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateStatus(tx, postID, status, now); err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", postID).Delete(&PostLogModel{}).Error; err != nil {
			return err
		}
		for i := range logs {
			l := logs[i]
			l.PostID = postID
			if l.CreatedAt.IsZero() {
				l.CreatedAt = now
			}
			if err := appendLog(tx, &l); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateStatus(tx *gorm.DB, id string, status domain.PostStatus, now time.Time) error {
	result := tx.Model(&PostModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
