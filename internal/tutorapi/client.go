// Package tutorapi is the typed client of the tutoring backend. It holds no
// state: every method is a single request/response pair with no retries.
package tutorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"tutorflow/internal/metrics"
	"tutorflow/internal/model"
)

// IdempotencyHeader carries the client-generated booking key.
const IdempotencyHeader = "Idempotency-Key"

// Client calls the tutoring backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *log.Logger

	token string
}

// New creates a client for baseURL with the given per-request timeout.
func New(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Logger:  logger,
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// WithToken returns a copy of c that forwards token as a bearer credential.
// The underlying HTTP client is shared.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type request struct {
	op      string
	method  string
	path    string
	body    any
	headers map[string]string
}

// do performs one call and decodes a 2xx body into out (when out is non-nil).
func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.BackendLatency.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
		metrics.BackendRequests.WithLabelValues(r.op, outcome(err)).Inc()
		if err != nil {
			c.Logger.Printf("tutorapi.%s failed: %v", r.op, err)
		}
	}()

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", r.op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.BaseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &model.NetworkError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &model.ServerRejectedError{Op: r.op, StatusCode: resp.StatusCode, Message: rejectionMessage(b, resp.Status)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		var de *model.DecodeError
		if errors.As(err, &de) {
			de.Op = r.op
			return de
		}
		var ne net.Error
		if errors.As(err, &ne) {
			return &model.NetworkError{Op: r.op, Err: err}
		}
		return &model.DecodeError{Op: r.op, Reason: "unexpected response body", Err: err}
	}
	return nil
}

// rejectionMessage pulls a human message out of an error body, which the
// backend sends either as JSON ({"message"|"error"|"detail"|"status"}) or text.
func rejectionMessage(body []byte, fallback string) string {
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for _, k := range []string{"message", "error", "detail", "status"} {
			if s, ok := parsed[k].(string); ok && s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}

func outcome(err error) string {
	var (
		ne *model.NetworkError
		de *model.DecodeError
		se *model.ServerRejectedError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &se):
		return "rejected"
	}
	return "error"
}

// IsAlreadyCancelled reports whether err is the backend refusing a cancel
// because the appointment is already cancelled.
func IsAlreadyCancelled(err error) bool {
	var se *model.ServerRejectedError
	if !errors.As(err, &se) {
		return false
	}
	return strings.Contains(strings.ToLower(se.Message), "already cancel")
}
