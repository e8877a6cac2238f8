package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/30x/k8s-svc-gw-mgr/gateway"
	"github.com/30x/k8s-svc-gw-mgr/reconcile"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *gateway.Config {
	return &gateway.Config{
		K8sHost:     "10.0.0.1:8080",
		Prefix:      gateway.DefaultPrefix,
		Interval:    gateway.DefaultInterval,
		ManagerPort: gateway.DefaultManagerPort,
	}
}

func get(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, httptest.NewRequest(method, path, nil))

	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	var doc map[string]interface{}

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &doc))

	return doc
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	handler := NewHandler(testConfig(), &reconcile.Status{}, prometheus.NewRegistry(), hclog.NewNullLogger())

	recorder := get(t, handler, http.MethodGet, "/")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	assert.Equal(t, map[string]interface{}{
		"k8s_host":        "10.0.0.1:8080",
		"prefix":          "svcgateway.",
		"interval":        60.0,
		"mgr_port":        9090.0,
		"url":             "http://10.0.0.1:8080/api/v1/services",
		"last_update_ts":  "",
		"last_update_res": "",
		"last_update_cfg": "",
	}, decode(t, recorder))
}

func TestStatusAfterCycle(t *testing.T) {
	status := &reconcile.Status{}
	handler := NewHandler(testConfig(), status, prometheus.NewRegistry(), hclog.NewNullLogger())

	status.Record(reconcile.Outcome{
		Timestamp: time.Date(2016, 3, 1, 12, 30, 0, 0, time.UTC),
		Result:    reconcile.Applied,
		Config:    "server {}\n",
	})

	for _, path := range []string{"/", gateway.ManagerPath} {
		doc := decode(t, get(t, handler, http.MethodGet, path))

		assert.Equal(t, "2016-03-01T12:30:00.000Z", doc["last_update_ts"], path)
		assert.Equal(t, "Success", doc["last_update_res"], path)
		assert.Equal(t, "server {}\n", doc["last_update_cfg"], path)
	}

	status.Record(reconcile.Outcome{
		Timestamp: time.Date(2016, 3, 1, 12, 31, 0, 0, time.UTC),
		Result:    reconcile.Error,
		Reason:    "fetch failed: connection refused",
	})

	doc := decode(t, get(t, handler, http.MethodGet, "/"))

	assert.Equal(t, "fetch failed: connection refused", doc["last_update_res"])
	assert.Equal(t, "", doc["last_update_cfg"])
}

func TestStatusMethodNotAllowed(t *testing.T) {
	handler := NewHandler(testConfig(), &reconcile.Status{}, prometheus.NewRegistry(), hclog.NewNullLogger())

	recorder := get(t, handler, http.MethodPost, "/")

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	assert.Equal(t, http.MethodGet, recorder.Header().Get("Allow"))
}

func TestStatusUnknownPath(t *testing.T) {
	handler := NewHandler(testConfig(), &reconcile.Status{}, prometheus.NewRegistry(), hclog.NewNullLogger())

	assert.Equal(t, http.StatusNotFound, get(t, handler, http.MethodGet, "/nope").Code)
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	reconcile.NewMetrics(registry)
	handler := NewHandler(testConfig(), &reconcile.Status{}, registry, hclog.NewNullLogger())

	recorder := get(t, handler, http.MethodGet, MetricsPath)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), `svcgw_reconcile_total{result="noop"} 0`))
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Serve(ctx, 0, http.NotFoundHandler(), hclog.NewNullLogger())
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * ShutdownTimeout):
		t.Fatal("Serve did not return after the context was canceled")
	}
}

func TestServeInvalidPort(t *testing.T) {
	assert.Error(t, Serve(context.Background(), -1, http.NotFoundHandler(), hclog.NewNullLogger()))
}
