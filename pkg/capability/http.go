package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPRequestAction performs an HTTP request described by its params:
// url, method, headers, body (string or JSON value) and retries{attempts, delay (ms)}.
type HTTPRequestAction struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPRequestAction creates the built-in "http_request" action.
func NewHTTPRequestAction(client *http.Client, logger *slog.Logger) *HTTPRequestAction {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTPRequestAction{client: client, logger: logger.With("action_type", "http_request")}
}

type httpRequestParams struct {
	URL      string
	Method   string
	Headers  map[string]string
	Body     []byte
	Attempts int
	Delay    time.Duration
}

func parseHTTPParams(params map[string]any) (httpRequestParams, error) {
	p := httpRequestParams{
		Method:   http.MethodGet,
		Headers:  make(map[string]string),
		Attempts: 1,
	}

	url, ok := params["url"].(string)
	if !ok || url == "" {
		return p, errors.New("missing required param 'url'")
	}

	p.URL = url

	if method, ok := params["method"].(string); ok && method != "" {
		p.Method = strings.ToUpper(method)
	}

	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			p.Headers[k] = fmt.Sprint(v)
		}
	}

	switch body := params["body"].(type) {
	case nil:
	case string:
		p.Body = []byte(body)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return p, fmt.Errorf("failed to encode body: %w", err)
		}

		p.Body = encoded

		if _, set := p.Headers["Content-Type"]; !set {
			p.Headers["Content-Type"] = "application/json"
		}
	}

	if retries, ok := params["retries"].(map[string]any); ok {
		if attempts, ok := retries["attempts"].(float64); ok && attempts >= 1 {
			p.Attempts = int(attempts)
		}

		if delay, ok := retries["delay"].(float64); ok && delay > 0 {
			p.Delay = time.Duration(delay) * time.Millisecond
		}
	}

	return p, nil
}

func (a *HTTPRequestAction) Invoke(ctx context.Context, req ActionRequest) (map[string]any, error) {
	p, err := parseHTTPParams(req.Params)
	if err != nil {
		return nil, err
	}

	var lastErr error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			a.logger.InfoContext(ctx, "retrying http request", "attempt", attempt, "attempts", p.Attempts, "node_id", req.NodeID)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.Delay):
			}
		}

		result, retryable, err := a.do(ctx, p)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !retryable {
			break
		}
	}

	return nil, lastErr
}

func (a *HTTPRequestAction) do(ctx context.Context, p httpRequestParams) (map[string]any, bool, error) {
	var body io.Reader
	if len(p.Body) > 0 {
		body = bytes.NewReader(p.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, p.Method, p.URL, body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create http request: %w", err)
	}

	for k, v := range p.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resp.StatusCode >= http.StatusInternalServerError,
			fmt.Errorf("http request returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
