package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType represents the type of telemetry event
type EventType string

const (
	EventTypeTool      EventType = "tool"
	EventTypeToolBatch EventType = "tool_batch"
)

// Event is one structured telemetry record.
type Event interface {
	GetEventType() EventType
}

// ToolEvent is recorded once per dispatched call.
type ToolEvent struct {
	ToolName string        `json:"tool_name"`
	CallID   string        `json:"call_id"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration_ms"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

func (e *ToolEvent) GetEventType() EventType {
	return EventTypeTool
}

// BatchEvent aggregates one merged turn, however many calls it held.
type BatchEvent struct {
	Calls        int           `json:"calls"`
	Responses    int           `json:"responses"`
	Deferred     int           `json:"deferred"`
	AuthRequests int           `json:"auth_requests"`
	Duration     time.Duration `json:"duration_ms"`
}

func (e *BatchEvent) GetEventType() EventType {
	return EventTypeToolBatch
}

// Recorder receives telemetry events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// LogRecorder writes events to a slog logger at debug level.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, event Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch e := event.(type) {
	case *ToolEvent:
		logger.DebugContext(ctx, "Telemetry event", "event", e.GetEventType(),
			"tool", e.ToolName, "call_id", e.CallID, "outcome", e.Outcome,
			"duration_ms", e.Duration.Milliseconds(), "success", e.Success, "error", e.Error)
	case *BatchEvent:
		logger.DebugContext(ctx, "Telemetry event", "event", e.GetEventType(),
			"calls", e.Calls, "responses", e.Responses, "deferred", e.Deferred,
			"auth_requests", e.AuthRequests, "duration_ms", e.Duration.Milliseconds())
	default:
		logger.DebugContext(ctx, "Telemetry event", "event", event.GetEventType())
	}
}

// MemoryRecorder keeps events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *MemoryRecorder) Record(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Batches returns the recorded batch events.
func (r *MemoryRecorder) Batches() []*BatchEvent {
	var out []*BatchEvent
	for _, e := range r.Events() {
		if b, ok := e.(*BatchEvent); ok {
			out = append(out, b)
		}
	}
	return out
}
