package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

const (
	DefaultLinkedInAPIURL = "https://api.linkedin.com/v2"

	defaultMaxImageBytes = 10 << 20

	linkedInUploadMechanism = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
	linkedInShareContent    = "com.linkedin.ugc.ShareContent"
)

type LinkedInConfig struct {
	AccessToken string
	PersonURN   string
	OrgID       string
	BaseURL     string
	Timeout     time.Duration
	// MaxImageBytes caps the source image downloaded for re-upload.
	MaxImageBytes int64
}

// LinkedInAdapter publishes UGC posts either as the member (linkedin) or as
// the organization page (linkedin_page). Images are re-uploaded as assets.
type LinkedInAdapter struct {
	cfg      LinkedInConfig
	platform domain.Platform
	client   *resty.Client
	guard    *Guard
}

func NewLinkedInAdapter(cfg LinkedInConfig, platform domain.Platform, guard *Guard) (*LinkedInAdapter, error) {
	if platform != domain.PlatformLinkedIn && platform != domain.PlatformLinkedInPage {
		return nil, fmt.Errorf("linkedin adapter: unsupported platform %q", platform)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultLinkedInAPIURL
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}

	client, err := newRestyClient(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("linkedin adapter: %w", err)
	}

	return &LinkedInAdapter{cfg: cfg, platform: platform, client: client, guard: guard}, nil
}

func (a *LinkedInAdapter) Platform() domain.Platform { return a.platform }

func (a *LinkedInAdapter) Publish(ctx context.Context, content Content) domain.PublishOutcome {
	author, missing := a.author()
	if missing != "" {
		return domain.FailedOutcome(a.platform,
			fmt.Sprintf("%s credentials not configured (%s missing)", a.platform, missing), nil)
	}

	body, err := a.guard.Execute(ctx, func(ctx context.Context) (map[string]any, error) {
		return a.send(ctx, author, content)
	})
	return outcomeOf(a.platform, body, err)
}

func (a *LinkedInAdapter) author() (string, string) {
	if a.platform == domain.PlatformLinkedInPage {
		if a.cfg.OrgID == "" || a.cfg.AccessToken == "" {
			return "", "LINKEDIN_ORG_ID or LINKEDIN_ACCESS_TOKEN"
		}
		return "urn:li:organization:" + a.cfg.OrgID, ""
	}

	if a.cfg.PersonURN == "" || a.cfg.AccessToken == "" {
		return "", "LINKEDIN_PERSON_URN or LINKEDIN_ACCESS_TOKEN"
	}
	if strings.HasPrefix(a.cfg.PersonURN, "urn:li:") {
		return a.cfg.PersonURN, ""
	}
	return "urn:li:person:" + a.cfg.PersonURN, ""
}

func (a *LinkedInAdapter) send(ctx context.Context, author string, content Content) (map[string]any, error) {
	share := map[string]any{
		"shareCommentary":    map[string]any{"text": content.Text()},
		"shareMediaCategory": "NONE",
	}

	if content.MediaURL != "" {
		asset, err := a.uploadImage(ctx, author, content.MediaURL)
		if err != nil {
			return nil, err
		}
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]any{{
			"status": "READY",
			"media":  asset,
			"title":  map[string]any{"text": content.Title},
		}}
	}

	post := map[string]any{
		"author":          author,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{linkedInShareContent: share},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	resp, err := a.authorized(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(post).
		Post("/ugcPosts")
	body, err := handleResponse(a.platform, resp, err, linkedInErrorMessage)
	if err != nil {
		return body, err
	}

	if body == nil {
		body = map[string]any{}
	}
	if _, ok := body["id"]; !ok {
		if id := strings.TrimSpace(resp.Header().Get("X-RestLi-Id")); id != "" {
			body["id"] = id
		}
	}
	return body, nil
}

// uploadImage registers an upload, fetches the source image and pushes it to
// LinkedIn, returning the asset URN to reference from the post.
func (a *LinkedInAdapter) uploadImage(ctx context.Context, owner string, mediaURL string) (string, error) {
	register := map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   owner,
			"serviceRelationships": []map[string]any{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	}

	resp, err := a.authorized(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("action", "registerUpload").
		SetBody(register).
		Post("/assets")
	body, err := handleResponse(a.platform, resp, err, linkedInErrorMessage)
	if err != nil {
		return "", err
	}

	value, _ := body["value"].(map[string]any)
	asset := stringField(value, "asset")
	mechanisms, _ := value["uploadMechanism"].(map[string]any)
	mechanism, _ := mechanisms[linkedInUploadMechanism].(map[string]any)
	uploadURL := stringField(mechanism, "uploadUrl")
	if asset == "" || uploadURL == "" {
		return "", &PlatformError{
			Platform: a.platform.String(),
			Message:  "linkedin registerUpload response is missing asset or uploadUrl",
			Response: body,
		}
	}

	image, contentType, err := a.downloadImage(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	resp, err = a.authorized(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(image).
		Put(uploadURL)
	if _, err := handleResponse(a.platform, resp, err, linkedInErrorMessage); err != nil {
		return "", err
	}

	return asset, nil
}

func (a *LinkedInAdapter) downloadImage(ctx context.Context, mediaURL string) ([]byte, string, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetResponseBodyLimit(int(a.cfg.MaxImageBytes)).
		Get(mediaURL)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, "", &PlatformError{
			Platform: a.platform.String(),
			Message:  fmt.Sprintf("image exceeds %d bytes", a.cfg.MaxImageBytes),
		}
	}
	if err != nil {
		return nil, "", &PlatformError{
			Platform:  a.platform.String(),
			Message:   fmt.Sprintf("failed to download image: %v", err),
			Transient: true,
			Cause:     err,
		}
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, "", &PlatformError{
			Platform:   a.platform.String(),
			StatusCode: status,
			Message:    fmt.Sprintf("failed to download image: source returned status %d", status),
			Transient:  isTransientHTTPStatus(status),
		}
	}

	data := resp.Body()
	contentType := strings.TrimSpace(resp.Header().Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (a *LinkedInAdapter) authorized(ctx context.Context) *resty.Request {
	return a.client.R().
		SetContext(ctx).
		SetAuthToken(a.cfg.AccessToken).
		SetHeader("X-Restli-Protocol-Version", "2.0.0")
}

func linkedInErrorMessage(body map[string]any) string {
	if msg := stringField(body, "message"); msg != "" {
		return msg
	}
	return stringField(body, "error")
}
