package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/pkg/types/common"
)

func TestHealthHandler_Liveness(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler("v1.2.3").Liveness(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.HealthUp, resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
}

func TestHealthHandler_Readiness(t *testing.T) {
	ready := false
	h := NewHealthHandler("dev",
		RepositoryChecker(func() bool { return ready }),
		CheckerFunc("cache", func(context.Context) error { return nil }),
	)

	probe := func() (int, common.HealthReport) {
		w := httptest.NewRecorder()
		h.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var report common.HealthReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		return w.Code, report
	}

	code, report := probe()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, common.HealthDown, report.Status)
	assert.Equal(t, []common.ComponentHealth{
		{Name: "cache", Status: common.HealthUp},
		{Name: "repository", Status: common.HealthDown, Message: "no repository loaded"},
	}, report.Components)

	ready = true
	code, report = probe()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, common.HealthUp, report.Status)
}

func TestHealthHandler_NoCheckers(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler("dev").Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"up","components":[]}`, w.Body.String())
}

func TestHealthHandler_CheckerError(t *testing.T) {
	h := NewHealthHandler("dev", CheckerFunc("redis", func(context.Context) error { return errors.New("connection refused") }))
	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
