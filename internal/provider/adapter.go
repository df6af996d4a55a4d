package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

const defaultPlatformTimeout = 30 * time.Second

// Content is what gets published to a platform.
type Content struct {
	Title    string
	Body     string
	MediaURL string
}

// Text joins title and body for platforms without a separate title field.
func (c Content) Text() string {
	return c.Title + "\n\n" + c.Body
}

func ContentFromPost(post *domain.Post) Content {
	return Content{
		Title:    post.Title,
		Body:     post.Content,
		MediaURL: post.MediaURL(),
	}
}

// Adapter publishes content to one platform. Publish never returns an error:
// every failure is folded into a failed outcome carrying the platform id.
type Adapter interface {
	Platform() domain.Platform
	Publish(ctx context.Context, content Content) domain.PublishOutcome
}

// Registry resolves adapters by platform.
type Registry struct {
	adapters map[domain.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(platform domain.Platform) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[platform]
	return a, ok
}

// Publish dispatches to the platform's adapter. Unregistered platforms still
// yield an outcome so every selected platform is accounted for.
func (r *Registry) Publish(ctx context.Context, platform domain.Platform, content Content) domain.PublishOutcome {
	a, ok := r.Get(platform)
	if !ok {
		return domain.FailedOutcome(platform, fmt.Sprintf("platform %s is not supported", platform), nil)
	}
	return a.Publish(ctx, content)
}

func newRestyClient(baseURL string, timeout time.Duration) (*resty.Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultPlatformTimeout
	}

	client := resty.New()
	client.SetBaseURL(trimmed)
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetJSONMarshaler(json.Marshal)
	client.SetJSONUnmarshaler(json.Unmarshal)
	return client, nil
}

// errorExtractor pulls the platform's own error text out of a response body.
type errorExtractor func(body map[string]any) string

// handleResponse turns a resty round trip into the decoded body or a
// classified PlatformError.
func handleResponse(platform domain.Platform, resp *resty.Response, err error, extract errorExtractor) (map[string]any, error) {
	if err != nil {
		return nil, &PlatformError{
			Platform:  platform.String(),
			Message:   err.Error(),
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if resp == nil {
		return nil, &PlatformError{
			Platform:  platform.String(),
			Message:   "platform returned empty response",
			Transient: true,
		}
	}

	body := decodeBody(resp.Body())
	statusCode := resp.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return body, nil
	}

	msg := ""
	if extract != nil && body != nil {
		msg = extract(body)
	}
	if msg == "" {
		msg = fmt.Sprintf("%s API returned status %d", platform, statusCode)
	}
	return body, &PlatformError{
		Platform:   platform.String(),
		StatusCode: statusCode,
		Message:    msg,
		Transient:  isTransientHTTPStatus(statusCode),
		Response:   body,
	}
}

func decodeBody(raw []byte) map[string]any {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
		return map[string]any{"raw": trimmed}
	}
	return body
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func outcomeOf(platform domain.Platform, body map[string]any, err error) domain.PublishOutcome {
	if err != nil {
		response := responseOf(err)
		if response == nil {
			response = body
		}
		return domain.FailedOutcome(platform, ErrorMessage(err), response)
	}
	return domain.SucceededOutcome(platform, body)
}
