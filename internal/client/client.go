// Package client calls a running model server over HTTP.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rforest/internal/common"
	"rforest/internal/server"

	"github.com/go-resty/resty/v2"
)

var ErrUnexpectedReply = errors.New("unexpected reply from model server")

// APIError is a non-2xx reply from the model server.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("model server: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("model server: %d %s", e.Status, e.Message)
}

type Client struct {
	base      string
	rest      *resty.Client
	batchRows int
}

// New creates a client for the server at base. Requests that fail with 429
// or 503 are retried twice with backoff.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	r.SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
		})
	return &Client{base: strings.TrimRight(base, "/"), rest: r, batchRows: common.MaxBatchRows}
}

// Predict classifies rows, splitting them into server-sized batches. Labels
// come back in row order.
func (c *Client) Predict(ctx context.Context, rows [][]float64) ([]string, error) {
	labels := make([]string, 0, len(rows))
	for start := 0; start < len(rows); start += c.batchRows {
		end := min(start+c.batchRows, len(rows))
		resp, err := c.PredictBatch(ctx, rows[start:end])
		if err != nil {
			return nil, fmt.Errorf("rows %d-%d: %w", start, end-1, err)
		}
		if len(resp.Labels) != end-start {
			return nil, fmt.Errorf("%w: %d labels for %d rows", ErrUnexpectedReply, len(resp.Labels), end-start)
		}
		labels = append(labels, resp.Labels...)
	}
	return labels, nil
}

// PredictBatch sends one /predict request and returns the full reply.
func (c *Client) PredictBatch(ctx context.Context, rows [][]float64) (server.PredictionResponse, error) {
	var out server.PredictionResponse
	err := c.do(ctx, http.MethodPost, "/predict", server.PredictionRequest{Rows: rows}, &out)
	return out, err
}

// Health reports the server's health. An unhealthy server replies 503,
// which is returned as an *APIError.
func (c *Client) Health(ctx context.Context) (server.HealthStatus, error) {
	var out server.HealthStatus
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) ModelInfo(ctx context.Context) (server.ModelInfo, error) {
	var out server.ModelInfo
	err := c.do(ctx, http.MethodGet, "/model/info", nil, &out)
	return out, err
}

// Reload asks the server to load the currently active model version.
func (c *Client) Reload(ctx context.Context) (server.ModelInfo, error) {
	var out server.ModelInfo
	err := c.do(ctx, http.MethodPost, "/model/reload", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &server.ErrorResponse{}
	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Message: msg, RequestID: apiErr.RequestID}
	}
	return nil
}
