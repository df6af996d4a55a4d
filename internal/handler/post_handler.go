package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/queue"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"github.com/kursadbilgin/social-dispatch/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
	maxJobsLimit    = 100
)

type PostService interface {
	Create(ctx context.Context, in service.CreatePostInput) (*domain.Post, error)
	Get(ctx context.Context, id string) (*domain.PostWithLogs, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Post, int64, error)
	Delete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, in service.RetryPostInput) (*domain.Post, error)
	QueueStats(ctx context.Context) (queue.Stats, error)
	RecentJobs(ctx context.Context, state string, limit int) ([]queue.JobRecord, error)
}

type PostHandler struct {
	service PostService
}

func NewPostHandler(service PostService) (*PostHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("post service is required")
	}
	return &PostHandler{service: service}, nil
}

func RegisterPostRoutes(router fiber.Router, service PostService) error {
	h, err := NewPostHandler(service)
	if err != nil {
		return err
	}

	api := router.Group("/api")
	api.Post("/posts", h.CreatePost)
	api.Get("/posts", h.ListPosts)
	api.Get("/posts/:id", h.GetPost)
	api.Delete("/posts/:id", h.DeletePost)
	api.Post("/posts/:id/retry", h.RetryPost)
	api.Get("/queue/stats", h.QueueStats)
	api.Get("/queue/jobs", h.RecentJobs)

	return nil
}

type createPostRequest struct {
	Title          string   `json:"title" validate:"required,max=255"`
	Content        string   `json:"content" validate:"required"`
	ImageURL       string   `json:"image_url" validate:"omitempty,http_url"`
	Platforms      []string `json:"platforms" validate:"omitempty,max=8"`
	LinkedInTarget string   `json:"linkedin_target" validate:"omitempty,oneof=profile page both"`
}

type retryPostRequest struct {
	Platforms      []string `json:"platforms" validate:"omitempty,max=8"`
	LinkedInTarget string   `json:"linkedin_target" validate:"omitempty,oneof=profile page both"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type postResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	ImageURL  *string           `json:"image_url"`
	Status    string            `json:"status"`
	Platforms []string          `json:"platforms"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Logs      []postLogResponse `json:"logs,omitempty"`
}

type postLogResponse struct {
	ID        string         `json:"id"`
	Platform  string         `json:"platform"`
	Status    string         `json:"status"`
	Response  map[string]any `json:"response"`
	Error     *string        `json:"error"`
	CreatedAt time.Time      `json:"created_at"`
}

type listPostsResponse struct {
	Posts      []postResponse `json:"posts"`
	Pagination pagination     `json:"pagination"`
}

type pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateRequest(req); err != nil {
		return toHTTPError(err)
	}

	in := service.CreatePostInput{
		Title:          req.Title,
		Content:        req.Content,
		Platforms:      req.Platforms,
		LinkedInTarget: req.LinkedInTarget,
	}
	if url := strings.TrimSpace(req.ImageURL); url != "" {
		in.ImageURL = &url
	}

	post, err := h.service.Create(requestContext(c), in)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(envelope{
		Success: true,
		Message: "Post created and queued for publishing",
		Data:    toPostResponse(post, nil),
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	posts, total, err := h.service.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]postResponse, 0, len(posts))
	for i := range posts {
		items = append(items, toPostResponse(&posts[i], nil))
	}

	totalPages := total / int64(params.PageSize)
	if total%int64(params.PageSize) != 0 {
		totalPages++
	}

	return c.Status(fiber.StatusOK).JSON(envelope{
		Success: true,
		Data: listPostsResponse{
			Posts: items,
			Pagination: pagination{
				Page:       params.Page,
				PageSize:   params.PageSize,
				Total:      total,
				TotalPages: totalPages,
			},
		},
	})
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	post, err := h.service.Get(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(envelope{
		Success: true,
		Data:    toPostResponse(&post.Post, post.Logs),
	})
}

func (h *PostHandler) DeletePost(c *fiber.Ctx) error {
	if err := h.service.Delete(requestContext(c), strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(envelope{
		Success: true,
		Message: "Post deleted",
	})
}

func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	var req retryPostRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if err := validateRequest(req); err != nil {
		return toHTTPError(err)
	}

	post, err := h.service.Retry(requestContext(c), strings.TrimSpace(c.Params("id")), service.RetryPostInput{
		Platforms:      req.Platforms,
		LinkedInTarget: req.LinkedInTarget,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(envelope{
		Success: true,
		Message: "Post queued for retry",
		Data:    toPostResponse(post, nil),
	})
}

func (h *PostHandler) QueueStats(c *fiber.Ctx) error {
	stats, err := h.service.QueueStats(requestContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(envelope{Success: true, Data: stats})
}

func (h *PostHandler) RecentJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxJobsLimit {
		return toHTTPError(fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxJobsLimit))
	}

	records, err := h.service.RecentJobs(requestContext(c), c.Query("state"), limit)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(envelope{Success: true, Data: records})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParsePostStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

// requestContext carries the request id into service calls so their logs
// can be correlated with the access log.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toPostResponse(p *domain.Post, logs []domain.PublishAttemptLog) postResponse {
	if p == nil {
		return postResponse{}
	}

	platforms := make([]string, 0, len(p.Platforms))
	for _, platform := range p.Platforms {
		platforms = append(platforms, platform.String())
	}

	resp := postResponse{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		ImageURL:  p.ImageURL,
		Status:    p.Status.String(),
		Platforms: platforms,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if logs != nil {
		resp.Logs = make([]postLogResponse, 0, len(logs))
		for _, l := range logs {
			resp.Logs = append(resp.Logs, postLogResponse{
				ID:        l.ID,
				Platform:  l.Platform.String(),
				Status:    l.Status.String(),
				Response:  l.Response,
				Error:     l.Error,
				CreatedAt: l.CreatedAt,
			})
		}
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
