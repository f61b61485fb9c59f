package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/handlers"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/middleware"
	"github.com/turtacn/ChargeAssign/internal/testutil"
	"github.com/turtacn/ChargeAssign/internal/testutil/chargetest"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
	"github.com/turtacn/ChargeAssign/pkg/types/common"
)

func newTestRouter(t *testing.T, mutate func(*RouterConfig)) http.Handler {
	t.Helper()
	fx := chargetest.New(t)
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "test"}, logging.NewNopLogger())
	require.NoError(t, err)

	cfg := RouterConfig{
		ChargeHandler:    handlers.NewChargeHandler(fx.Service, 0, 8, nil),
		HealthHandler:    handlers.NewHealthHandler("test", handlers.RepositoryChecker(fx.Service.Ready)),
		Logging:          middleware.DefaultLoggingConfig(),
		MetricsCollector: collector,
		Metrics:          prometheus.NewChargeMetrics(collector),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(cfg)
}

func serve(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestNewRouter_Probes(t *testing.T) {
	h := newTestRouter(t, nil)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/readyz", "", nil).Code)
}

func TestNewRouter_ChargeRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	w := serve(h, http.MethodPost, "/api/v1/charge", testutil.UnchargedEthanolLGF,
		map[string]string{"Accept": "text/plain", "X-Request-ID": "req-42"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), "partial_charge")

	body, _ := json.Marshal(charge.BatchRequest{Molecules: []charge.Request{{LGF: testutil.UnchargedEthanolLGF}}})
	w = serve(h, http.MethodPost, "/api/v1/charge/batch", string(body), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var batch common.APIResponse[charge.BatchResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	assert.Equal(t, 1, batch.Data.Succeeded)
	assert.NotEmpty(t, batch.RequestID)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/v1/repository", "", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/api/v1/charge", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/unknown", "", nil).Code)
}

func TestNewRouter_Metrics(t *testing.T) {
	h := newTestRouter(t, nil)
	serve(h, http.MethodGet, "/api/v1/repository", "", nil)

	w := serve(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_http_requests_total{method="GET",path="/api/v1/repository",status_code="200"} 1`)
}

func TestNewRouter_NilHandlers(t *testing.T) {
	h := NewRouter(RouterConfig{})
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/api/v1/charge", "x", nil).Code)
}

func TestNewRouter_CORS(t *testing.T) {
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://app.example.com"}
	h := newTestRouter(t, func(cfg *RouterConfig) { cfg.CORS = &cors })

	w := serve(h, http.MethodOptions, "/api/v1/charge", "", map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRouter_RateLimit(t *testing.T) {
	limiter := middleware.NewTokenBucketLimiter(0.001, 1, 0)
	h := newTestRouter(t, func(cfg *RouterConfig) {
		cfg.RateLimiter = limiter
		cfg.RateLimit = middleware.DefaultRateLimitConfig()
	})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/v1/repository", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/api/v1/repository", "", nil).Code)
	// probes are exempt
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "", nil).Code)
}

func TestNewRouter_Recovers(t *testing.T) {
	h := newTestRouter(t, func(cfg *RouterConfig) { cfg.RequestTimeout = time.Second })
	mux, ok := h.(interface {
		Get(string, http.HandlerFunc)
	})
	require.True(t, ok)
	mux.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/panic", "", nil).Code)
}
