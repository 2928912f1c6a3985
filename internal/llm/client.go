// SPDX-License-Identifier: MIT

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cratedig/cratedig/internal/log"
)

// correlationHeader travels on every outbound backend call.
const correlationHeader = "X-Correlation-Id"

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 8 << 20

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// postJSON sends payload to rawURL and returns the response bytes. The
// effective deadline is the earlier of timeout and ctx's own deadline.
// Transport failures and non-2xx statuses return *BackendError; context
// errors pass through unchanged.
func postJSON(ctx context.Context, client httpDoer, backend, rawURL string, timeout time.Duration, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &BackendError{Backend: backend, Op: "invoke", Err: fmt.Errorf("%w: encode request: %v", ErrBadRequest, err)}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, &BackendError{Backend: backend, Op: "invoke", Err: fmt.Errorf("%w: build request: %v", ErrBadRequest, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(correlationHeader, correlationID(ctx))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &BackendError{Backend: backend, Op: "invoke", Err: fmt.Errorf("%w: %v", ErrTransient, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &BackendError{Backend: backend, Op: "invoke", Status: resp.StatusCode, Err: fmt.Errorf("%w: read response: %v", ErrTransient, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BackendError{
			Backend: backend,
			Op:      "invoke",
			Status:  resp.StatusCode,
			Snippet: snippet(data),
			Err:     classifyStatus(resp.StatusCode),
		}
	}
	return data, nil
}

// probeGet issues a liveness GET. Any HTTP response below 500 counts as
// alive; auth and routing problems are invoke-time concerns.
func probeGet(ctx context.Context, client httpDoer, backend, rawURL string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &BackendError{Backend: backend, Op: "probe", Err: fmt.Errorf("%w: build request: %v", ErrBadRequest, err)}
	}
	req.Header.Set(correlationHeader, correlationID(ctx))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &BackendError{Backend: backend, Op: "probe", Err: fmt.Errorf("%w: %v", ErrTransient, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return &BackendError{Backend: backend, Op: "probe", Status: resp.StatusCode, Err: ErrTransient}
	}
	return nil
}

func correlationID(ctx context.Context) string {
	if id := log.CorrelationIDFromContext(ctx); id != "" {
		return id
	}
	return log.NewCorrelationID()
}
