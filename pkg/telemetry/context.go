package telemetry

import (
	"context"
	"time"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	recorderContextKey contextKey = "telemetry_recorder"
)

// WithRecorder adds a telemetry recorder to the context
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, recorderContextKey, r)
}

// FromContext retrieves the telemetry recorder from context
func FromContext(ctx context.Context) Recorder {
	if r, ok := ctx.Value(recorderContextKey).(Recorder); ok {
		return r
	}
	return nil
}

func RecordToolCall(ctx context.Context, toolName, callID, outcome string, duration time.Duration, err error) {
	r := FromContext(ctx)
	if r == nil {
		return
	}
	event := &ToolEvent{
		ToolName: toolName,
		CallID:   callID,
		Outcome:  outcome,
		Duration: duration,
		Success:  err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	r.Record(ctx, event)
}

func RecordToolBatch(ctx context.Context, event BatchEvent) {
	if r := FromContext(ctx); r != nil {
		r.Record(ctx, &event)
	}
}
