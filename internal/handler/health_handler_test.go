package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		redisErr   error
		wantStatus int
		wantState  string
		wantRedis  string
	}{
		{name: "all dependencies up", wantStatus: fiber.StatusOK, wantState: "ready", wantRedis: "ok"},
		{name: "redis down", redisErr: errors.New("dial tcp: refused"), wantStatus: fiber.StatusServiceUnavailable, wantState: "not_ready", wantRedis: "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New()
			RegisterHealthRoutes(app, map[string]HealthCheck{
				"postgres": func(ctx context.Context) error { return nil },
				"redis":    func(ctx context.Context) error { return tt.redisErr },
			})

			resp, parsed := performRequest(t, app, http.MethodGet, "/readyz", "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if parsed["status"] != tt.wantState {
				t.Fatalf("state = %v, want %s", parsed["status"], tt.wantState)
			}
			checks := parsed["checks"].(map[string]any)
			if checks["postgres"] != "ok" || checks["redis"] != tt.wantRedis {
				t.Fatalf("checks = %v", checks)
			}

			for _, path := range []string{"/livez", "/api/health"} {
				resp, parsed := performRequest(t, app, http.MethodGet, path, "")
				if resp.StatusCode != fiber.StatusOK || parsed["status"] != "ok" {
					t.Fatalf("%s: status = %d body = %v", path, resp.StatusCode, parsed)
				}
			}
		})
	}
}
