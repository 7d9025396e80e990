// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/waitresume"
	goredis "github.com/redis/go-redis/v9"
)

const capabilityTimeout = 30 * time.Second

// NewCapabilities registers the built-in actions and picks the agent. Without agentURL,
// agent nodes fail with a node execution error.
func NewCapabilities(logger *slog.Logger, agentURL string) (*capability.Registry, capability.Agent) {
	client := &http.Client{Timeout: capabilityTimeout}

	actions := capability.NewRegistry()
	actions.Register("log", capability.NewLogAction(logger))
	actions.Register("http_request", capability.NewHTTPRequestAction(client, logger))

	if agentURL == "" {
		return actions, capability.UnavailableAgent{}
	}

	return actions, capability.NewHTTPAgent(agentURL, client, logger)
}

// NewWaitIndex returns a Redis-backed wait index for redisURL, or an in-memory one when it
// is empty. The returned close func releases the connection.
func NewWaitIndex(ctx context.Context, redisURL string) (waitresume.Index, func() error, error) {
	if redisURL == "" {
		return waitresume.NewMemoryIndex(), func() error { return nil }, nil
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	index := waitresume.NewRedisIndex(client)

	err = index.Ping(ctx)
	if err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return index, client.Close, nil
}
