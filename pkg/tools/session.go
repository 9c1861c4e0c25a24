package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrSessionClosed is returned by executors whose persistent session is no
// longer usable.
var ErrSessionClosed = errors.New("tool session closed")

// RetryOnce wraps h so that ErrSessionClosed reinitializes session and
// retries the call a single time. A second failure is returned as is.
func RetryOnce(h ToolHandler, session Reinitializer) ToolHandler {
	if session == nil {
		return h
	}
	return func(ctx context.Context, tc *Context, args map[string]any) (any, error) {
		result, err := h(ctx, tc, args)
		if !errors.Is(err, ErrSessionClosed) {
			return result, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, err
		}

		slog.Debug("Tool session closed, reinitializing", "tool", tc.ToolName, "call_id", tc.FunctionCallID)
		if rerr := session.Reinitialize(ctx); rerr != nil {
			return nil, fmt.Errorf("reinitializing session: %w", errors.Join(rerr, err))
		}
		return h(ctx, tc, args)
	}
}
