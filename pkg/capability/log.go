package capability

import (
	"context"
	"log/slog"
)

// LogAction writes params.message (and any other params) to the logger.
type LogAction struct {
	logger *slog.Logger
}

// NewLogAction creates the built-in "log" action.
func NewLogAction(logger *slog.Logger) *LogAction {
	return &LogAction{logger: logger.With("action_type", "log")}
}

func (a *LogAction) Invoke(ctx context.Context, req ActionRequest) (map[string]any, error) {
	level := slog.LevelInfo
	if raw, ok := req.Params["level"].(string); ok {
		_ = level.UnmarshalText([]byte(raw))
	}

	message, _ := req.Params["message"].(string)

	a.logger.Log(ctx, level, message,
		"execution_id", req.ExecutionID,
		"node_id", req.NodeID,
		"params", req.Params,
	)

	return map[string]any{
		"logged":  true,
		"message": message,
	}, nil
}
