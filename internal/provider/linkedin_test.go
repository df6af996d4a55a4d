package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

type linkedInFakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []string
	uploaded []byte
	post     map[string]any
}

func newLinkedInFakeServer(t *testing.T, imageSize int) *linkedInFakeServer {
	t.Helper()

	f := &linkedInFakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/assets":
			if r.URL.Query().Get("action") != "registerUpload" {
				t.Errorf("action = %q, want registerUpload", r.URL.Query().Get("action"))
			}
			_, _ = w.Write([]byte(`{"value":{"asset":"urn:li:digitalmediaAsset:A1","uploadMechanism":{"` +
				linkedInUploadMechanism + `":{"uploadUrl":"` + f.URL + `/upload"}}}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/image.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte(strings.Repeat("x", imageSize)))
		case r.Method == http.MethodPut && r.URL.Path == "/upload":
			f.uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/ugcPosts":
			if r.Header.Get("X-Restli-Protocol-Version") != "2.0.0" {
				t.Errorf("missing restli protocol header")
			}
			if r.Header.Get("Authorization") != "Bearer li-token" {
				t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
			}
			if err := json.NewDecoder(r.Body).Decode(&f.post); err != nil {
				t.Errorf("decode post: %v", err)
			}
			w.Header().Set("X-RestLi-Id", "urn:li:share:99")
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"unexpected call"}`))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *linkedInFakeServer) snapshot() ([]string, []byte, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.uploaded, f.post
}

func newLinkedInTestAdapter(t *testing.T, baseURL string, platform domain.Platform, maxImage int64) *LinkedInAdapter {
	t.Helper()

	a, err := NewLinkedInAdapter(LinkedInConfig{
		AccessToken:   "li-token",
		PersonURN:     "abc123",
		OrgID:         "555",
		BaseURL:       baseURL,
		MaxImageBytes: maxImage,
	}, platform, nil)
	if err != nil {
		t.Fatalf("NewLinkedInAdapter() error = %v", err)
	}
	return a
}

func TestLinkedInAdapterTextPostAsPerson(t *testing.T) {
	t.Parallel()

	server := newLinkedInFakeServer(t, 0)
	outcome := newLinkedInTestAdapter(t, server.URL, domain.PlatformLinkedIn, 0).
		Publish(context.Background(), Content{Title: "Hello", Body: "World"})

	if !outcome.Success {
		t.Fatalf("Success = false, error = %q", outcome.Error)
	}
	if outcome.Response["id"] != "urn:li:share:99" {
		t.Fatalf("Response[id] = %v", outcome.Response["id"])
	}
	calls, _, post := server.snapshot()
	if post["author"] != "urn:li:person:abc123" {
		t.Fatalf("author = %v", post["author"])
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only ugcPosts", calls)
	}
}

func TestLinkedInAdapterImagePostAsOrganization(t *testing.T) {
	t.Parallel()

	server := newLinkedInFakeServer(t, 128)
	outcome := newLinkedInTestAdapter(t, server.URL, domain.PlatformLinkedInPage, 0).
		Publish(context.Background(), Content{Title: "Hello", Body: "World", MediaURL: server.URL + "/image.png"})

	if !outcome.Success {
		t.Fatalf("Success = false, error = %q", outcome.Error)
	}
	if outcome.Platform != domain.PlatformLinkedInPage {
		t.Fatalf("Platform = %s, want linkedin_page", outcome.Platform)
	}

	calls, uploaded, post := server.snapshot()
	wantCalls := []string{"POST /assets", "GET /image.png", "PUT /upload", "POST /ugcPosts"}
	if strings.Join(calls, ",") != strings.Join(wantCalls, ",") {
		t.Fatalf("calls = %v, want %v", calls, wantCalls)
	}
	if len(uploaded) != 128 {
		t.Fatalf("uploaded %d bytes, want 128", len(uploaded))
	}
	if post["author"] != "urn:li:organization:555" {
		t.Fatalf("author = %v", post["author"])
	}

	specific := post["specificContent"].(map[string]any)
	share := specific[linkedInShareContent].(map[string]any)
	if share["shareMediaCategory"] != "IMAGE" {
		t.Fatalf("shareMediaCategory = %v, want IMAGE", share["shareMediaCategory"])
	}
	media := share["media"].([]any)[0].(map[string]any)
	if media["media"] != "urn:li:digitalmediaAsset:A1" {
		t.Fatalf("media asset = %v", media["media"])
	}
}

func TestLinkedInAdapterImageTooLarge(t *testing.T) {
	t.Parallel()

	server := newLinkedInFakeServer(t, 64)
	outcome := newLinkedInTestAdapter(t, server.URL, domain.PlatformLinkedIn, 32).
		Publish(context.Background(), Content{Title: "t", Body: "b", MediaURL: server.URL + "/image.png"})

	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	if !strings.Contains(outcome.Error, "exceeds 32 bytes") {
		t.Fatalf("Error = %q", outcome.Error)
	}
	calls, _, _ := server.snapshot()
	for _, call := range calls {
		if call == "POST /ugcPosts" {
			t.Fatal("post must not be created when image upload fails")
		}
	}
}

func TestLinkedInAdapterImageDownloadStopsAtLimit(t *testing.T) {
	t.Parallel()

	const total = 64 << 20
	var written atomic.Int64
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		chunk := []byte(strings.Repeat("x", 32<<10))
		for written.Load() < total {
			n, err := w.Write(chunk)
			written.Add(int64(n))
			if err != nil {
				return
			}
		}
	}))
	defer source.Close()

	a := newLinkedInTestAdapter(t, source.URL, domain.PlatformLinkedIn, 1<<10)
	data, _, err := a.downloadImage(context.Background(), source.URL+"/image.png")
	if err == nil || !strings.Contains(err.Error(), "exceeds 1024 bytes") {
		t.Fatalf("downloadImage() error = %v, want size limit error", err)
	}
	if data != nil {
		t.Fatalf("downloadImage() returned %d bytes past the limit", len(data))
	}

	source.CloseClientConnections()
	if got := written.Load(); got >= total {
		t.Fatalf("source wrote %d bytes, the download should stop at the limit", got)
	}
}

func TestLinkedInAdapterErrorMessage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":401,"message":"Invalid access token"}`))
	}))
	defer server.Close()

	outcome := newLinkedInTestAdapter(t, server.URL, domain.PlatformLinkedIn, 0).
		Publish(context.Background(), Content{Title: "t", Body: "b"})

	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	if outcome.Error != "Invalid access token" {
		t.Fatalf("Error = %q", outcome.Error)
	}
}

func TestLinkedInAdapterMissingCredentials(t *testing.T) {
	t.Parallel()

	a, err := NewLinkedInAdapter(LinkedInConfig{AccessToken: "tok"}, domain.PlatformLinkedInPage, nil)
	if err != nil {
		t.Fatalf("NewLinkedInAdapter() error = %v", err)
	}

	outcome := a.Publish(context.Background(), Content{Title: "t", Body: "b"})
	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	if !strings.Contains(outcome.Error, "LINKEDIN_ORG_ID") {
		t.Fatalf("Error = %q", outcome.Error)
	}
}

func TestNewLinkedInAdapterRejectsOtherPlatforms(t *testing.T) {
	t.Parallel()

	if _, err := NewLinkedInAdapter(LinkedInConfig{}, domain.PlatformTelegram, nil); err == nil {
		t.Fatal("expected error for non-linkedin platform")
	}
}
