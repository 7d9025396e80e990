package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPAgent forwards agent requests to an HTTP endpoint that fronts an LLM. The endpoint
// receives {model, prompt, params, execution_id, node_id} and must answer with a JSON object.
type HTTPAgent struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPAgent creates an agent that posts to url.
func NewHTTPAgent(url string, client *http.Client, logger *slog.Logger) *HTTPAgent {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	return &HTTPAgent{url: url, client: client, logger: logger.With("module", "http_agent")}
}

type agentPayload struct {
	Model       string         `json:"model,omitempty"`
	Prompt      string         `json:"prompt"`
	Params      map[string]any `json:"params,omitempty"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
}

func (a *HTTPAgent) Run(ctx context.Context, req AgentRequest) (map[string]any, error) {
	payload, err := json.Marshal(agentPayload{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Params:      req.Params,
		ExecutionID: req.ExecutionID,
		NodeID:      req.NodeID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	a.logger.DebugContext(ctx, "agent responded", "node_id", req.NodeID, "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var output map[string]any
	if err := json.Unmarshal(body, &output); err != nil {
		return nil, fmt.Errorf("agent response is not a JSON object: %w", err)
	}

	return output, nil
}
