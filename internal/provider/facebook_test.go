package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

func newFacebookTestAdapter(t *testing.T, baseURL string) *FacebookAdapter {
	t.Helper()

	a, err := NewFacebookAdapter(FacebookConfig{
		PageID:      "page-1",
		AccessToken: "fb-token",
		BaseURL:     baseURL,
	}, nil)
	if err != nil {
		t.Fatalf("NewFacebookAdapter() error = %v", err)
	}
	return a
}

func TestFacebookAdapterPublishText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v25.0/page-1/feed" {
			t.Errorf("path = %s, want /v25.0/page-1/feed", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("message") != "Hello\n\nWorld" {
			t.Errorf("message = %q", q.Get("message"))
		}
		if q.Get("access_token") != "fb-token" {
			t.Errorf("access_token = %q", q.Get("access_token"))
		}
		_, _ = w.Write([]byte(`{"id":"page-1_123"}`))
	}))
	defer server.Close()

	outcome := newFacebookTestAdapter(t, server.URL).Publish(context.Background(), Content{Title: "Hello", Body: "World"})

	if !outcome.Success {
		t.Fatalf("Success = false, error = %q", outcome.Error)
	}
	if outcome.Platform != domain.PlatformFacebook {
		t.Fatalf("Platform = %s, want facebook", outcome.Platform)
	}
	if outcome.Response["id"] != "page-1_123" {
		t.Fatalf("Response[id] = %v, want page-1_123", outcome.Response["id"])
	}
}

func TestFacebookAdapterPublishPhoto(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v25.0/page-1/photos" {
			t.Errorf("path = %s, want /v25.0/page-1/photos", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("url") != "https://cdn.example.com/a.png" {
			t.Errorf("url = %q", q.Get("url"))
		}
		if q.Get("caption") != "Hello\n\nWorld" {
			t.Errorf("caption = %q", q.Get("caption"))
		}
		_, _ = w.Write([]byte(`{"id":"photo-1","post_id":"page-1_456"}`))
	}))
	defer server.Close()

	outcome := newFacebookTestAdapter(t, server.URL).Publish(context.Background(), Content{
		Title:    "Hello",
		Body:     "World",
		MediaURL: "https://cdn.example.com/a.png",
	})

	if !outcome.Success {
		t.Fatalf("Success = false, error = %q", outcome.Error)
	}
	if outcome.Response["post_id"] != "page-1_456" {
		t.Fatalf("Response[post_id] = %v", outcome.Response["post_id"])
	}
}

func TestFacebookAdapterPublishErrorMessage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","code":190}}`))
	}))
	defer server.Close()

	outcome := newFacebookTestAdapter(t, server.URL).Publish(context.Background(), Content{Title: "t", Body: "b"})

	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	if outcome.Error != "Invalid OAuth access token." {
		t.Fatalf("Error = %q", outcome.Error)
	}
	if outcome.Response == nil {
		t.Fatal("expected platform response to be kept on failure")
	}
}

func TestFacebookAdapterMissingCredentials(t *testing.T) {
	t.Parallel()

	a, err := NewFacebookAdapter(FacebookConfig{}, nil)
	if err != nil {
		t.Fatalf("NewFacebookAdapter() error = %v", err)
	}

	outcome := a.Publish(context.Background(), Content{Title: "t", Body: "b"})
	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	if !strings.Contains(outcome.Error, "credentials not configured") {
		t.Fatalf("Error = %q", outcome.Error)
	}
	if outcome.Platform != domain.PlatformFacebook {
		t.Fatalf("Platform = %s, want facebook", outcome.Platform)
	}
}
