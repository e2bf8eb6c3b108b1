package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rforest/internal/common"
	"rforest/internal/forest"
	"rforest/internal/metrics"
	"rforest/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRows = [][]float64{
	{1, 5}, {2, 4}, {3, 6}, {4, 5},
	{10, 1}, {11, 2}, {12, 1}, {13, 3},
}

var testLabels = []string{"a", "a", "a", "a", "b", "b", "b", "b"}

func trainedForest(t *testing.T) *forest.Forest[string] {
	t.Helper()
	f := forest.New[string](forest.WithClassifiers(5), forest.WithSeed(11))
	require.NoError(t, f.Fit(testRows, testLabels))
	return f
}

func testVersion() storage.ModelVersion {
	return storage.ModelVersion{
		Name:      "rf",
		Version:   "20240501-120000.000000000",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Metrics:   storage.ModelMetrics{Accuracy: 0.95, Trees: 5},
		IsActive:  true,
	}
}

// slowPredictor blocks until release is closed.
type slowPredictor struct {
	release chan struct{}
}

func (s *slowPredictor) Predict(x [][]float64) ([]string, error) {
	<-s.release
	return make([]string, len(x)), nil
}
func (s *slowPredictor) NFeatures() int    { return 2 }
func (s *slowPredictor) NClassifiers() int { return 1 }
func (s *slowPredictor) Classes() []string { return []string{"a"} }

func postPredict(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func encodeRequest(t *testing.T, req PredictionRequest) string {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return string(data)
}

func TestPredict(t *testing.T) {
	f := trainedForest(t)
	ms := NewModelServer(f, testVersion(), 0)

	rec := postPredict(t, ms.Handler(), encodeRequest(t, PredictionRequest{Rows: testRows, RequestID: "req-1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	want, err := f.Predict(testRows)
	require.NoError(t, err)
	assert.Equal(t, want, resp.Labels)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, testVersion().Version, resp.ModelVersion)
	assert.GreaterOrEqual(t, resp.Latency, 0.0)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestPredict_GeneratesRequestID(t *testing.T) {
	ms := NewModelServer(trainedForest(t), testVersion(), 0)

	rec := postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.RequestID, 36)
}

func TestPredict_Errors(t *testing.T) {
	tooMany := make([][]float64, common.MaxBatchRows+1)
	for i := range tooMany {
		tooMany[i] = []float64{1, 1}
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid JSON", `{"rows": [`, http.StatusBadRequest},
		{"empty rows", `{"rows": []}`, http.StatusBadRequest},
		{"too few features", `{"rows": [[1]]}`, http.StatusBadRequest},
		{"ragged rows", `{"rows": [[1, 2], [1]]}`, http.StatusBadRequest},
		{"too many rows", encodeRequest(t, PredictionRequest{Rows: tooMany}), http.StatusRequestEntityTooLarge},
	}

	ms := NewModelServer(trainedForest(t), testVersion(), 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postPredict(t, ms.Handler(), tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	ms := NewModelServer(trainedForest(t), testVersion(), 0)

	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredict_NoModel(t *testing.T) {
	ms := NewModelServer(nil, storage.ModelVersion{}, 0)

	rec := postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPredict_Timeout(t *testing.T) {
	slow := &slowPredictor{release: make(chan struct{})}
	defer close(slow.release)
	ms := NewModelServer(slow, testVersion(), 0, WithTimeout(20*time.Millisecond))

	rec := postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPredict_RateLimit(t *testing.T) {
	ms := NewModelServer(trainedForest(t), testVersion(), 0, WithRateLimit(0.001, 1))

	rec := postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthAndModelInfo(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	f := trainedForest(t)
	ms := NewModelServer(f, testVersion(), 0, WithMetrics(m))

	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.True(t, health.Healthy)
	assert.Equal(t, testVersion().Version, health.ModelVersion)

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "rf", info.Name)
	assert.Equal(t, 5, info.Trees)
	assert.Equal(t, 2, info.Features)
	assert.Equal(t, []string{"a", "b"}, info.Classes)
	assert.Equal(t, 0.95, info.Metrics.Accuracy)
	assert.Greater(t, info.AgeSeconds, 0.0)
	assert.Equal(t, 0.95, testutil.ToFloat64(m.ModelAccuracy))
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	ms := NewModelServer(trainedForest(t), testVersion(), 0, WithMetrics(m))

	postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	postPredict(t, ms.Handler(), `{"rows": []}`)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal))
	assert.InDelta(t, 0.5, m.GetErrorRate(), 1e-12)

	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "forest_requests_total 2")
	assert.Contains(t, string(body), "forest_errors_total 1")
}

func TestReload(t *testing.T) {
	ms := NewModelServer(nil, storage.ModelVersion{}, 0)
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/model/reload", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	f := trainedForest(t)
	calls := 0
	ms = NewModelServer(nil, storage.ModelVersion{}, 0, WithReloader(func() (Predictor, storage.ModelVersion, error) {
		calls++
		if calls == 1 {
			return nil, storage.ModelVersion{}, errors.New("store unavailable")
		}
		return f, testVersion(), nil
	}))

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/model/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/model/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, testVersion().Version, info.Version)

	rec = postPredict(t, ms.Handler(), `{"rows": [[1, 5]]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketPredict(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	f := trainedForest(t)
	ms := NewModelServer(f, testVersion(), 0, WithMetrics(m))

	ts := httptest.NewServer(ms.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(PredictionRequest{Rows: testRows, RequestID: "ws-1"}))
	var resp PredictionResponse
	require.NoError(t, conn.ReadJSON(&resp))
	want, err := f.Predict(testRows)
	require.NoError(t, err)
	assert.Equal(t, want, resp.Labels)
	assert.Equal(t, "ws-1", resp.RequestID)
	assert.Equal(t, testVersion().Version, resp.ModelVersion)

	// Errors are reported on the same session, which stays open.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"rows": [[1]]}`)))
	var errResp ErrorResponse
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Contains(t, errResp.Error, "feature")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	errResp = ErrorResponse{}
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Contains(t, errResp.Error, "invalid request")

	require.NoError(t, conn.WriteJSON(PredictionRequest{Rows: [][]float64{{12, 1}}}))
	resp = PredictionResponse{}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Len(t, resp.Labels, 1)
	assert.NotEmpty(t, resp.RequestID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSSessions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsTotal))
}

func TestShutdownClosesSessions(t *testing.T) {
	ms := NewModelServer(trainedForest(t), testVersion(), 0)
	ts := httptest.NewServer(ms.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Round-trip once so the session is registered before shutdown.
	require.NoError(t, conn.WriteJSON(PredictionRequest{Rows: [][]float64{{1, 5}}}))
	var resp PredictionResponse
	require.NoError(t, conn.ReadJSON(&resp))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ms.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, map[string]int{"n": 1})
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.JSONEq(t, `{"n":1}`, strings.TrimSpace(rec.Body.String()))
	assert.True(t, bytes.HasSuffix(rec.Body.Bytes(), []byte("\n")))
}
