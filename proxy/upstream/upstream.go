// Package upstream issues the forwarded chat completion call to the
// inference backend and classifies its failures.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrorKind classifies how an upstream call failed.
type ErrorKind int

const (
	// KindUnreachable covers connection failures and timeouts: the
	// backend never produced a response.
	KindUnreachable ErrorKind = iota

	// KindBackendRejected means the backend answered with a non-2xx
	// status. Status and Body carry its reply.
	KindBackendRejected

	// KindStreamInterrupted means the connection dropped after the
	// backend started responding.
	KindStreamInterrupted
)

// Error is the typed failure returned by Forward.
type Error struct {
	Kind    ErrorKind
	Status  int
	Body    []byte
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBackendRejected:
		return fmt.Sprintf("upstream rejected request: status %d", e.Status)
	case KindStreamInterrupted:
		return fmt.Sprintf("upstream stream interrupted: %v", e.Err)
	default:
		if e.Timeout {
			return fmt.Sprintf("upstream timed out: %v", e.Err)
		}
		return fmt.Sprintf("upstream unreachable: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error onto the status the proxy should return to the
// caller: the backend's own status, 504 for timeouts, 502 otherwise.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBackendRejected:
		return e.Status
	case KindStreamInterrupted:
		return http.StatusBadGateway
	default:
		if e.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
}

// Client forwards chat completion requests to the inference backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client for the backend at baseURL. The timeout bounds
// the whole exchange, including reading a streamed body; chat completions
// can be slow, so generous values are normal.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Forward POSTs the raw request body to path on the backend. The prepare
// callback, when non-nil, is applied to the outgoing request before sending
// so the caller can copy through client headers.
//
// On a 2xx response the *http.Response is returned with its body open: for a
// streamed response the body is the lazy chunk sequence, consumable exactly
// once. The caller owns closing it. Any failure is returned as *Error.
func (c *Client) Forward(ctx context.Context, path string, body []byte, prepare func(*http.Request)) (*http.Response, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if prepare != nil {
		prepare(req)
	}

	c.logger.Debug("forwarding request to upstream",
		zap.String("url", c.baseURL+path),
		zap.Int("body_bytes", len(body)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{
			Kind:    KindUnreachable,
			Timeout: isTimeout(err),
			Err:     err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.logger.Warn("could not read upstream error body", zap.Error(readErr))
		}
		return nil, &Error{
			Kind:   KindBackendRejected,
			Status: resp.StatusCode,
			Body:   respBody,
		}
	}

	return resp, nil
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
