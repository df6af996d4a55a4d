package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsWorkerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.ObservePlatformPublish("Telegram", true, 120*time.Millisecond)
	metrics.ObservePlatformPublish("facebook", false, 80*time.Millisecond)
	metrics.IncCycle("partial_failure")
	metrics.IncJobProcessed("complete")
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled()

	if got := testutil.ToFloat64(metrics.platformPublishTotal.WithLabelValues("telegram", "success")); got != 1 {
		t.Fatalf("platform_publish_total{telegram,success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.platformPublishTotal.WithLabelValues("facebook", "failed")); got != 1 {
		t.Fatalf("platform_publish_total{facebook,failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.cyclesTotal.WithLabelValues("partial_failure")); got != 1 {
		t.Fatalf("publish_cycles_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.jobsProcessedTotal.WithLabelValues("complete")); got != 1 {
		t.Fatalf("jobs_processed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.ObservePlatformPublish("telegram", true, time.Second)
	metrics.IncCycle("full_success")
	metrics.IncJobProcessed("retry")
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled()
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
