package repository

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"gorm.io/datatypes"
)

// PostModel is the persistence model for the posts table.
type PostModel struct {
	ID        string            `gorm:"type:uuid;primaryKey"`
	Title     string            `gorm:"type:varchar(255);not null"`
	Content   string            `gorm:"type:text;not null"`
	ImageURL  *string           `gorm:"type:text"`
	Status    domain.PostStatus `gorm:"type:varchar(20);not null"`
	Platforms string            `gorm:"type:varchar(255);not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Logs []PostLogModel `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"`
}

func (PostModel) TableName() string {
	return "posts"
}

// PostLogModel is the persistence model for post_logs, one row per platform
// per publish cycle.
type PostLogModel struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	PostID    string           `gorm:"type:uuid;not null"`
	Platform  domain.Platform  `gorm:"type:varchar(20);not null"`
	Response  datatypes.JSON
	Status    domain.LogStatus `gorm:"type:varchar(10);not null"`
	Error     *string          `gorm:"type:text"`
	CreatedAt time.Time
}

func (PostLogModel) TableName() string {
	return "post_logs"
}

func postModelFromDomain(p *domain.Post) *PostModel {
	if p == nil {
		return nil
	}

	return &PostModel{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		ImageURL:  p.ImageURL,
		Status:    p.Status,
		Platforms: domain.JoinPlatforms(p.Platforms),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func postModelToDomain(m *PostModel) *domain.Post {
	if m == nil {
		return nil
	}

	return &domain.Post{
		ID:        m.ID,
		Title:     m.Title,
		Content:   m.Content,
		ImageURL:  m.ImageURL,
		Status:    m.Status,
		Platforms: domain.SplitPlatforms(m.Platforms),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func logModelFromDomain(l *domain.PublishAttemptLog) (*PostLogModel, error) {
	if l == nil {
		return nil, nil
	}

	var response datatypes.JSON
	if l.Response != nil {
		raw, err := json.Marshal(l.Response)
		if err != nil {
			return nil, err
		}
		response = datatypes.JSON(raw)
	}

	return &PostLogModel{
		ID:        l.ID,
		PostID:    l.PostID,
		Platform:  l.Platform,
		Response:  response,
		Status:    l.Status,
		Error:     l.Error,
		CreatedAt: l.CreatedAt,
	}, nil
}

func logModelToDomain(m *PostLogModel) *domain.PublishAttemptLog {
	if m == nil {
		return nil
	}

	var response map[string]any
	if len(m.Response) > 0 {
		if err := json.Unmarshal(m.Response, &response); err != nil {
			response = map[string]any{"raw": string(m.Response)}
		}
	}

	return &domain.PublishAttemptLog{
		ID:        m.ID,
		PostID:    m.PostID,
		Platform:  m.Platform,
		Response:  response,
		Status:    m.Status,
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
	}
}
