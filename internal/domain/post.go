package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PostStatus represents the publishing state of a post.
type PostStatus string

const (
	PostStatusPending   PostStatus = "pending"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

func (s PostStatus) String() string { return string(s) }

func (s PostStatus) IsValid() bool {
	switch s {
	case PostStatusPending, PostStatusPublished, PostStatusFailed:
		return true
	}
	return false
}

func ParsePostStatusFromString(s string) (PostStatus, error) {
	st := PostStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid post status %q", ErrValidation, s)
	}
	return st, nil
}

const MaxTitleLength = 255

// Post is a unit of content fanned out to the selected platforms.
type Post struct {
	ID        string
	Title     string
	Content   string
	ImageURL  *string
	Status    PostStatus
	Platforms []Platform
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Text is the body shared by platforms that have no separate title field.
func (p *Post) Text() string {
	return p.Title + "\n\n" + p.Content
}

func (p *Post) MediaURL() string {
	if p.ImageURL == nil {
		return ""
	}
	return *p.ImageURL
}

func (p *Post) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if n := len([]rune(p.Title)); n > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, n)
	}
	if p.ImageURL != nil {
		u, err := url.ParseRequestURI(*p.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: image_url must be an absolute http(s) URL", ErrValidation)
		}
	}
	for _, platform := range p.Platforms {
		if !platform.IsValid() {
			return fmt.Errorf("%w: invalid platform %q", ErrValidation, platform)
		}
	}
	return nil
}

// PostWithLogs is a post together with the attempt logs of its latest cycle.
type PostWithLogs struct {
	Post
	Logs []PublishAttemptLog
}
