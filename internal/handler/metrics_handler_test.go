package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-counsel-api/internal/service"
	"github.com/noah-isme/sma-counsel-api/pkg/llm"
)

func TestMetricsHandlerHealth(t *testing.T) {
	handler := NewMetricsHandler(nil, nil)
	c, w := newJSONContext(t, http.MethodGet, "/health", nil)

	handler.Health(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeEnvelope(t, w)["status"])
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	failing := func(ctx context.Context) error { return errors.New("connection refused") }

	handler := NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{"database": ok, "redis": ok})
	c, w := newJSONContext(t, http.MethodGet, "/ready", nil)
	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Contains(t, body, "metrics")

	handler = NewMetricsHandler(nil, map[string]ReadinessCheck{"database": ok, "redis": failing})
	c, w = newJSONContext(t, http.MethodGet, "/ready", nil)
	handler.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decodeEnvelope(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.IncLLMCall("success")
	handler := NewMetricsHandler(metrics, nil)
	c, w := newJSONContext(t, http.MethodGet, "/metrics", nil)

	handler.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "llm_calls_total"))
}

func TestModelHandlerList(t *testing.T) {
	catalog := &llm.Catalog{Models: []llm.ModelInfo{{ID: "gpt-4o-mini", Name: "GPT-4o mini"}, {ID: "gpt-4o", Name: "GPT-4o"}}}
	handler := NewModelHandler(catalog, nil)
	c, w := newJSONContext(t, http.MethodGet, "/models", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, catalog.Default(), body["meta"].(map[string]interface{})["default"])
}

func TestModelHandlerListReportsConfiguredDefault(t *testing.T) {
	catalog := &llm.Catalog{Models: []llm.ModelInfo{{ID: "gpt-4o-mini", Name: "GPT-4o mini"}, {ID: "gpt-4o", Name: "GPT-4o"}}}
	client := llm.NewClient(llm.Config{APIKey: "test", DefaultModel: "gpt-4o"}, nil)
	handler := NewModelHandler(catalog, client)
	c, w := newJSONContext(t, http.MethodGet, "/models", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-4o", decodeEnvelope(t, w)["meta"].(map[string]interface{})["default"])
}
