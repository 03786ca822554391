package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T) []byte {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rec.Code)
	}
	return rec.Body.Bytes()
}

// TestMetricsMiddleware_UsesRoutePattern ensures requests are labeled by the
// chi route pattern instead of the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	h := NewMux(&mockService{models: nil})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/some-unique-id", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := scrape(t)
	if !bytes.Contains(body, []byte("modelbench_http_requests_total")) {
		t.Fatal("expected modelbench_http_requests_total in metrics")
	}
	if !bytes.Contains(body, []byte(`path="/models/{id}"`)) {
		t.Fatal("expected route pattern label /models/{id}")
	}
	if bytes.Contains(body, []byte("some-unique-id")) {
		t.Fatal("raw path leaked into metric labels")
	}
}

// TestMetricsMiddleware_FallsBackToPath covers use outside a chi router.
func TestMetricsMiddleware_FallsBackToPath(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	MetricsMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rec.Code)
	}
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/plain", http.MethodGet, "418"))
	if got < 1 {
		t.Fatalf("expected counter for /plain, got %v", got)
	}
}

func TestIncrementBackpressure_IncrementsCounter(t *testing.T) {
	baseline := testutil.ToFloat64(backpressureTotal.WithLabelValues("test_run"))
	IncrementBackpressure("test_run")
	IncrementBackpressure("test_run")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("test_run")); got < baseline+2 {
		t.Fatalf("expected backpressure counter >= %v, got %v", baseline+2, got)
	}

	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if after := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); after < before+1 {
		t.Fatalf("expected unspecified reason to increment: before=%v after=%v", before, after)
	}
}
