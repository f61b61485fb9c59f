package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func corsRequest(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "/api/v1/charge", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	CORS(cfg)(okHandler()).ServeHTTP(w, r)
	return w
}

func TestCORS_Preflight(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://lab.example.org"}
	cfg.MaxAge = 3600

	w := corsRequest(cfg, http.MethodOptions, "https://lab.example.org")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://lab.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, w.Body.String())
}

func TestCORS_Origins(t *testing.T) {
	cases := []struct {
		name        string
		allowed     []string
		wildcard    bool
		credentials bool
		origin      string
		want        string
	}{
		{"exact", []string{"https://a.org", "https://b.org"}, false, false, "https://b.org", "https://b.org"},
		{"case insensitive", []string{"https://A.org"}, false, false, "https://a.org", "https://a.org"},
		{"disallowed", []string{"https://a.org"}, false, false, "https://evil.org", ""},
		{"any", []string{"*"}, false, false, "https://x.org", "*"},
		{"any with credentials echoes", []string{"*"}, false, true, "https://x.org", "https://x.org"},
		{"subdomain", []string{"*.example.org"}, true, false, "https://lab.example.org", "https://lab.example.org"},
		{"subdomain mismatch", []string{"*.example.org"}, true, false, "https://other.org", ""},
		{"subdomain pattern needs flag", []string{"*.example.org"}, false, false, "https://lab.example.org", ""},
		{"no origin", []string{"*"}, false, false, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultCORSConfig()
			cfg.AllowedOrigins = tc.allowed
			cfg.AllowWildcard = tc.wildcard
			cfg.AllowCredentials = tc.credentials

			w := corsRequest(cfg, http.MethodGet, tc.origin)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "ok", w.Body.String())
			assert.Equal(t, tc.want, w.Header().Get("Access-Control-Allow-Origin"))
			if tc.credentials {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestCORS_ExposedAndVary(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://a.org"}

	w := corsRequest(cfg, http.MethodPost, "https://a.org")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
	assert.ElementsMatch(t, []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"}, w.Header().Values("Vary"))
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()
	assert.Empty(t, cfg.AllowedOrigins)
	assert.NotContains(t, cfg.AllowedMethods, http.MethodDelete)
	assert.False(t, cfg.AllowCredentials)
	assert.Equal(t, 86400, cfg.MaxAge)
}

func TestCORS_ExposesChargeHeaders(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{" https://a.org "}

	w := corsRequest(cfg, http.MethodPost, "https://a.org")
	exposed := w.Header().Get("Access-Control-Expose-Headers")
	assert.Contains(t, exposed, "X-Charge-Mode")
	assert.Contains(t, exposed, "X-Charge-Shell")
}

func TestCORS_PreflightWithoutMaxAge(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://a.org"}
	cfg.MaxAge = 0

	w := corsRequest(cfg, http.MethodOptions, "https://a.org")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, w.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORS_DisallowedPreflightReachesHandler(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://a.org"}

	w := corsRequest(cfg, http.MethodOptions, "https://evil.org")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, w.Header().Values("Vary"))
}
