// Package server exposes a trained forest over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rforest/internal/common"
	"rforest/internal/forest"
	"rforest/internal/metrics"
	"rforest/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrNoModel     = errors.New("no model loaded")
	ErrEmptyBatch  = errors.New("rows cannot be empty")
	ErrBatchTooBig = errors.New("too many rows in batch")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Predictor is the model surface the server needs. *forest.Forest[string]
// satisfies it.
type Predictor interface {
	Predict(x [][]float64) ([]string, error)
	NFeatures() int
	NClassifiers() int
	Classes() []string
}

// Reloader fetches the model that should be served next, typically the
// active version in the model store.
type Reloader func() (Predictor, storage.ModelVersion, error)

// ModelServer provides HTTP and WebSocket APIs for forest predictions.
type ModelServer struct {
	mu       sync.RWMutex
	model    Predictor
	version  storage.ModelVersion
	loadedAt time.Time

	started  time.Time
	timeout  time.Duration
	limiter  *rate.Limiter
	reloader Reloader
	metrics  *metrics.Metrics
	recorder *metrics.Recorder

	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	router *mux.Router
	server *http.Server
}

// PredictionRequest is a batch of feature rows to classify.
type PredictionRequest struct {
	Rows      [][]float64 `json:"rows"`
	RequestID string      `json:"request_id,omitempty"`
}

// PredictionResponse carries one label per request row, in row order.
type PredictionResponse struct {
	Labels       []string  `json:"labels"`
	RequestID    string    `json:"request_id"`
	ModelVersion string    `json:"model_version"`
	Latency      float64   `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthStatus reports whether the server can answer predictions.
type HealthStatus struct {
	Healthy      bool    `json:"healthy"`
	ModelVersion string  `json:"model_version,omitempty"`
	Uptime       float64 `json:"uptime_seconds"`
	WSSessions   int     `json:"ws_sessions"`
}

// ModelInfo describes the served model.
type ModelInfo struct {
	Name       string               `json:"name"`
	Version    string               `json:"version"`
	CreatedAt  time.Time            `json:"created_at"`
	LoadedAt   time.Time            `json:"loaded_at"`
	Metrics    storage.ModelMetrics `json:"metrics"`
	Trees      int                  `json:"trees"`
	Features   int                  `json:"features"`
	Classes    []string             `json:"classes"`
	ErrorRate  float64              `json:"error_rate"`
	AgeSeconds float64              `json:"age_seconds"`
}

type Option func(*ModelServer)

// WithMetrics records request counters and exposes the registry on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ms *ModelServer) {
		ms.metrics = m
		ms.recorder = metrics.NewRecorder(m)
	}
}

// WithTimeout bounds how long a single batch may take to classify.
func WithTimeout(d time.Duration) Option {
	return func(ms *ModelServer) { ms.timeout = d }
}

// WithRateLimit allows r prediction batches per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(ms *ModelServer) {
		if r > 0 {
			ms.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// WithReloader enables POST /model/reload.
func WithReloader(fn Reloader) Option {
	return func(ms *ModelServer) { ms.reloader = fn }
}

// NewModelServer creates a server for model on port. model may be nil, in
// which case predictions fail until SetModel or a reload provides one.
func NewModelServer(model Predictor, version storage.ModelVersion, port int, opts ...Option) *ModelServer {
	ms := &ModelServer{
		started:  time.Now(),
		timeout:  5 * time.Second,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}
	if model != nil {
		ms.SetModel(model, version)
	}

	r := mux.NewRouter()
	r.HandleFunc("/predict", ms.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", ms.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/model/reload", ms.handleReload).Methods(http.MethodPost)
	r.HandleFunc("/ws/predict", ms.handleWebSocket).Methods(http.MethodGet)
	if ms.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(ms.metrics.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	ms.router = r

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the HTTP routes, for embedding or tests.
func (ms *ModelServer) Handler() http.Handler {
	return ms.router
}

// Start begins serving HTTP requests and blocks until the server stops.
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	if err := ms.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes open WebSocket sessions and gracefully stops the server.
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	ms.clientsMu.Lock()
	for conn := range ms.clients {
		conn.Close()
	}
	ms.clients = make(map[*websocket.Conn]struct{})
	ms.clientsMu.Unlock()

	return ms.server.Shutdown(ctx)
}

// SetModel swaps the served model. In-flight requests finish on the model
// they started with.
func (ms *ModelServer) SetModel(model Predictor, version storage.ModelVersion) {
	ms.mu.Lock()
	ms.model = model
	ms.version = version
	ms.loadedAt = time.Now()
	ms.mu.Unlock()

	if ms.recorder != nil {
		ms.recorder.ModelAccuracySet(version.Metrics.Accuracy)
		ms.recorder.ModelAgeSet(time.Since(version.CreatedAt).Seconds())
	}
	log.Info().
		Str("model", version.Name).
		Str("version", version.Version).
		Int("trees", model.NClassifiers()).
		Msg("model loaded")
}

func (ms *ModelServer) current() (Predictor, storage.ModelVersion) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.model, ms.version
}

// predict classifies one request, bounded by the server timeout.
func (ms *ModelServer) predict(ctx context.Context, req PredictionRequest) (PredictionResponse, int, error) {
	start := time.Now()
	if ms.recorder != nil {
		ms.recorder.RequestsInc()
	}

	resp, status, err := ms.classify(ctx, req)
	if err != nil {
		if ms.recorder != nil {
			ms.recorder.ErrorsInc()
		}
		return resp, status, err
	}

	resp.Latency = float64(time.Since(start).Microseconds()) / 1000
	resp.Timestamp = time.Now()
	return resp, http.StatusOK, nil
}

func (ms *ModelServer) classify(ctx context.Context, req PredictionRequest) (PredictionResponse, int, error) {
	if ms.limiter != nil && !ms.limiter.Allow() {
		return PredictionResponse{}, http.StatusTooManyRequests, ErrRateLimited
	}
	if len(req.Rows) == 0 {
		return PredictionResponse{}, http.StatusBadRequest, ErrEmptyBatch
	}
	if len(req.Rows) > common.MaxBatchRows {
		return PredictionResponse{}, http.StatusRequestEntityTooLarge,
			fmt.Errorf("%w: %d > %d", ErrBatchTooBig, len(req.Rows), common.MaxBatchRows)
	}

	model, version := ms.current()
	if model == nil {
		return PredictionResponse{}, http.StatusServiceUnavailable, ErrNoModel
	}

	ctx, cancel := context.WithTimeout(ctx, ms.timeout)
	defer cancel()

	type result struct {
		labels []string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		labels, err := model.Predict(req.Rows)
		done <- result{labels, err}
	}()

	select {
	case <-ctx.Done():
		return PredictionResponse{}, http.StatusGatewayTimeout, fmt.Errorf("prediction aborted: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			status := http.StatusInternalServerError
			if errors.Is(res.err, forest.ErrFeatureCount) || errors.Is(res.err, forest.ErrRaggedRows) {
				status = http.StatusBadRequest
			}
			return PredictionResponse{}, status, res.err
		}
		if ms.recorder != nil {
			ms.recorder.ModelAgeSet(time.Since(version.CreatedAt).Seconds())
		}
		return PredictionResponse{
			Labels:       res.labels,
			RequestID:    req.RequestID,
			ModelVersion: version.Version,
		}, http.StatusOK, nil
	}
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, common.MaxRequestBody)

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	resp, status, err := ms.predict(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Int("rows", len(req.Rows)).Msg("prediction failed")
		writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: req.RequestID})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	model, version := ms.current()

	ms.clientsMu.Lock()
	sessions := len(ms.clients)
	ms.clientsMu.Unlock()

	health := HealthStatus{
		Healthy:      model != nil,
		ModelVersion: version.Version,
		Uptime:       time.Since(ms.started).Seconds(),
		WSSessions:   sessions,
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	model, version := ms.current()
	if model == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ErrNoModel.Error()})
		return
	}

	ms.mu.RLock()
	loadedAt := ms.loadedAt
	ms.mu.RUnlock()

	info := ModelInfo{
		Name:       version.Name,
		Version:    version.Version,
		CreatedAt:  version.CreatedAt,
		LoadedAt:   loadedAt,
		Metrics:    version.Metrics,
		Trees:      model.NClassifiers(),
		Features:   model.NFeatures(),
		Classes:    model.Classes(),
		AgeSeconds: time.Since(version.CreatedAt).Seconds(),
	}
	if ms.metrics != nil {
		info.ErrorRate = ms.metrics.GetErrorRate()
	}
	writeJSON(w, http.StatusOK, info)
}

func (ms *ModelServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if ms.reloader == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "reload not configured"})
		return
	}
	model, version, err := ms.reloader()
	if err != nil {
		log.Error().Err(err).Msg("model reload failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if model == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrNoModel.Error()})
		return
	}
	ms.SetModel(model, version)
	ms.handleModelInfo(w, r)
}

// handleWebSocket answers each text message, a PredictionRequest, with a
// PredictionResponse or an ErrorResponse until the client disconnects.
func (ms *ModelServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	conn.SetReadLimit(common.MaxRequestBody)

	ms.clientsMu.Lock()
	ms.clients[conn] = struct{}{}
	ms.clientsMu.Unlock()
	if ms.recorder != nil {
		ms.recorder.WSSessionsAdd(1)
	}

	defer func() {
		ms.clientsMu.Lock()
		delete(ms.clients, conn)
		ms.clientsMu.Unlock()
		if ms.recorder != nil {
			ms.recorder.WSSessionsAdd(-1)
		}
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("WebSocket session ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply any
		var req PredictionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)}
		} else {
			if req.RequestID == "" {
				req.RequestID = uuid.New().String()
			}
			resp, _, err := ms.predict(r.Context(), req)
			if err != nil {
				reply = ErrorResponse{Error: err.Error(), RequestID: req.RequestID}
			} else {
				reply = resp
			}
		}

		if err := conn.WriteJSON(reply); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}
