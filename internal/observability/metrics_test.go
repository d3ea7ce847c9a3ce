package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/indent"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("shipment:sync").End(errors.New("boom"))

	body := scrape(t, metrics)
	if !strings.Contains(body, `fulfillment_jobs_total{job="shipment:sync",status="failure"} 1`) {
		t.Fatalf("expected job run to be recorded, got: %s", body)
	}
	if !strings.Contains(body, `fulfillment_jobs_failures_total{job="shipment:sync"} 1`) {
		t.Fatalf("expected job failure to be recorded, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestMetricsObserveTransitions(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveTransition(fulfillment.EventGRNSubmitted, indent.StatusCreated, indent.StatusDelivered)
	metrics.ObserveTransition(fulfillment.EventGRNSubmitted, indent.StatusDelivered, indent.StatusGRNSubmitted)
	metrics.ObserveRefused(fulfillment.EventAdminAdvance, indent.StatusPaid)

	body := scrape(t, metrics)
	for _, want := range []string{
		`fulfillment_vendor_indent_transitions_total{event="GRN_SUBMITTED",from="CREATED",to="DELIVERED"} 1`,
		`fulfillment_vendor_indent_transitions_total{event="GRN_SUBMITTED",from="DELIVERED",to="GRN_SUBMITTED"} 1`,
		`fulfillment_vendor_indent_refused_total{event="ADMIN_ADVANCE",from="PAID"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveTransition(fulfillment.EventGRNSubmitted, indent.StatusCreated, indent.StatusDelivered)
	metrics.ObserveRefused(fulfillment.EventGRNSubmitted, indent.StatusCreated)
	if metrics.Jobs() != nil {
		t.Fatal("expected nil job metrics")
	}
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}
