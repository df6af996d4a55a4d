package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

const (
	DefaultFacebookAPIURL       = "https://graph.facebook.com"
	DefaultFacebookGraphVersion = "v25.0"
)

type FacebookConfig struct {
	PageID       string
	AccessToken  string
	GraphVersion string
	BaseURL      string
	Timeout      time.Duration
}

// FacebookAdapter publishes to a Facebook page through the Graph API.
type FacebookAdapter struct {
	cfg    FacebookConfig
	client *resty.Client
	guard  *Guard
}

func NewFacebookAdapter(cfg FacebookConfig, guard *Guard) (*FacebookAdapter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultFacebookAPIURL
	}
	if strings.TrimSpace(cfg.GraphVersion) == "" {
		cfg.GraphVersion = DefaultFacebookGraphVersion
	}

	client, err := newRestyClient(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("facebook adapter: %w", err)
	}

	return &FacebookAdapter{cfg: cfg, client: client, guard: guard}, nil
}

func (a *FacebookAdapter) Platform() domain.Platform { return domain.PlatformFacebook }

func (a *FacebookAdapter) Publish(ctx context.Context, content Content) domain.PublishOutcome {
	if a.cfg.PageID == "" || a.cfg.AccessToken == "" {
		return domain.FailedOutcome(domain.PlatformFacebook,
			"facebook credentials not configured (FACEBOOK_PAGE_ID or FACEBOOK_ACCESS_TOKEN missing)", nil)
	}

	body, err := a.guard.Execute(ctx, func(ctx context.Context) (map[string]any, error) {
		return a.send(ctx, content)
	})
	return outcomeOf(domain.PlatformFacebook, body, err)
}

// send posts a photo when media is attached and a feed entry otherwise.
func (a *FacebookAdapter) send(ctx context.Context, content Content) (map[string]any, error) {
	req := a.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", a.cfg.AccessToken)

	edge := "feed"
	if content.MediaURL != "" {
		edge = "photos"
		req.SetQueryParam("url", content.MediaURL)
		req.SetQueryParam("caption", content.Text())
	} else {
		req.SetQueryParam("message", content.Text())
	}

	resp, err := req.Post(fmt.Sprintf("/%s/%s/%s", a.cfg.GraphVersion, a.cfg.PageID, edge))
	return handleResponse(domain.PlatformFacebook, resp, err, facebookErrorMessage)
}

func facebookErrorMessage(body map[string]any) string {
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(errObj, "message")
}
