package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	flowexecutor "github.com/flowtalk/engine/pkg/executor"
)

// HTTPClient is a thin JSON-over-HTTP caller shared by every RPC client
// implementation in this package. It owns the retry policy so each
// service client stays a one-line wrapper around Do.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	// MaxRetries bounds the exponential-backoff retry loop for transient
	// failures (connection errors, 5xx). Business errors (4xx) are never
	// retried here; policy-driven retries belong to the engine's onError
	// handling, not the transport.
	MaxRetries uint64
}

// NewHTTPClient builds an HTTPClient with sane defaults.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTP:       &http.Client{Timeout: timeout},
		MaxRetries: 2,
	}
}

// Do posts body (JSON-encoded) to path and decodes the JSON response into
// out. A non-2xx response is classified per spec §7: 5xx is transient and
// retried with exponential backoff up to MaxRetries; 4xx is an upstream
// business error and returned immediately, unretried.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return flowexecutor.NewError(flowexecutor.KindValidation, "request encoding failed", err)
		}
		payload = encoded
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(flowexecutor.NewError(flowexecutor.KindInternal, "request construction failed", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return flowexecutor.NewError(flowexecutor.KindTransient, "request failed", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		switch {
		case resp.StatusCode >= 500:
			return flowexecutor.NewError(flowexecutor.KindTransient, fmt.Sprintf("server error %d", resp.StatusCode), nil)
		case resp.StatusCode >= 400:
			return backoff.Permanent(flowexecutor.NewError(flowexecutor.KindUpstream, fmt.Sprintf("business error %d: %s", resp.StatusCode, respBody), nil))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(flowexecutor.NewError(flowexecutor.KindInternal, "response decoding failed", err))
			}
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.MaxRetries)
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil {
		slog.Debug("rpc call exhausted retries", "path", path, "error", err)
		return err
	}
	return nil
}
