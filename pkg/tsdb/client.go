// Package tsdb is the client for the external time-series query service.
// The service is opaque: one query(string) operation returning rows.
package tsdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrQueryFailed marks a query the service reported as failed. It aborts
// the whole aggregation pass for the request that issued it.
var ErrQueryFailed = errors.New("query failed")

// Point is one (timestamp, value) pair. Value is nil for null samples.
type Point struct {
	TS    int64
	Value *float64
}

// Row is one result row: the grouping field values plus the point sequences
// of each requested series.
type Row struct {
	Fields map[string]string
	Series map[string][]Point
}

// Response is the wire shape of one query result.
type Response struct {
	Error     bool   `json:"error,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
	Results   []Row  `json:"results"`
}

// Client issues queries against the service endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	log      zerolog.Logger
}

// New creates a query-service client. The HTTP client carries no timeout:
// aggregation queries may legitimately run for a long time, and the worker
// blocks on them by design.
func New(endpoint, token string, log zerolog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{},
		log:      log,
	}
}

// Query runs one composed query and returns its result rows. A transport
// error, a non-2xx status, or an error field in the response all fail the
// query.
func (c *Client) Query(ctx context.Context, query string) ([]Row, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug().Str("query", query).Msg("issuing query")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrQueryFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrQueryFailed, err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrQueryFailed, err)
	}
	if decoded.Error {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, decoded.ErrorText)
	}
	if decoded.Results == nil {
		return nil, fmt.Errorf("%w: response carries no results", ErrQueryFailed)
	}
	return decoded.Results, nil
}
