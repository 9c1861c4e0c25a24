package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/concurrent"
	"github.com/docker/agentcall/pkg/tools"
)

// StopStreamingName is the reserved call that stops a running stream. Its
// only argument is function_name.
const StopStreamingName = "stop_streaming"

const stopTimeout = time.Second

type LiveOptions struct {
	// OnPartial receives every piece a streaming tool yields.
	OnPartial func(callID string, value map[string]any)
	// OnDone is called once a stream returned. err is nil when it finished
	// or was stopped.
	OnDone func(callID string, err error)
}

// Live dispatches calls over a persistent channel. Streaming tools keep
// running in the background after their call was answered.
type Live struct {
	d    *Dispatcher
	opts LiveOptions

	streams *concurrent.Map[string, *stream]
	wg      sync.WaitGroup
}

type stream struct {
	callID string
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *Dispatcher) NewLive(opts LiveOptions) *Live {
	return &Live{
		d:       d,
		opts:    opts,
		streams: concurrent.NewMap[string, *stream](),
	}
}

// Dispatch runs the calls whose id is in allowed. A nil allowed set lets
// every call through.
func (l *Live) Dispatch(ctx context.Context, calls []*genai.FunctionCall, allowed map[string]bool) *Reply {
	selected := make([]*genai.FunctionCall, 0, len(calls))
	for _, call := range calls {
		if call == nil {
			continue
		}
		if allowed != nil && !allowed[call.ID] {
			slog.Debug("Skipping call outside the allowed set", "tool", call.Name, "call_id", call.ID)
			continue
		}
		selected = append(selected, call)
	}
	if len(selected) == 0 {
		return nil
	}

	return l.d.dispatch(ctx, selected, liveRegistry{l}, l.execute)
}

// liveRegistry adds the stop_streaming control call to the tools of the
// dispatcher.
type liveRegistry struct {
	l *Live
}

func (r liveRegistry) Tool(name string) (tools.Tool, bool) {
	if name != StopStreamingName {
		return r.l.d.registry.Tool(name)
	}
	return tools.Tool{
		Name:        StopStreamingName,
		Description: "Stop a streaming function that is running in the background.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"function_name": map[string]any{"type": "string"},
			},
			"required": []string{"function_name"},
		},
		Handler: func(ctx context.Context, _ *tools.Context, args map[string]any) (any, error) {
			name, _ := args["function_name"].(string)
			return r.l.stop(ctx, name), nil
		},
	}, true
}

// Streaming returns whether a stream of the named tool is running.
func (l *Live) Streaming(name string) bool {
	_, ok := l.streams.Load(name)
	return ok
}

// Close stops every stream and waits for them to return.
func (l *Live) Close() {
	l.streams.Range(func(_ string, s *stream) bool {
		s.cancel()
		return true
	})
	l.wg.Wait()
}

func (l *Live) execute(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (any, error) {
	if tool.Stream == nil {
		return l.d.execute(ctx, tc, tool, args)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{callID: tc.FunctionCallID, cancel: cancel, done: make(chan struct{})}
	if _, loaded := l.streams.LoadOrStore(tool.Name, s); loaded {
		cancel()
		return map[string]any{"status": "The function is already running asynchronously."}, nil
	}

	slog.Debug("Starting streaming tool", "tool", tool.Name, "call_id", tc.FunctionCallID)
	l.wg.Go(func() {
		defer close(s.done)
		defer cancel()
		defer l.streams.CompareAndDelete(tool.Name, func(cur *stream) bool { return cur == s })

		err := l.stream(streamCtx, tc, tool, args)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			slog.Warn("Streaming tool failed", "tool", tool.Name, "call_id", tc.FunctionCallID, "error", err)
		}
		if l.opts.OnDone != nil {
			l.opts.OnDone(tc.FunctionCallID, err)
		}
	})

	return map[string]any{"status": "The function is running asynchronously and the results are pending."}, nil
}

func (l *Live) stream(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (err error) {
	defer recoverTo(&err)
	return tool.Stream(ctx, tc, args, func(v any) {
		if l.opts.OnPartial != nil {
			l.opts.OnPartial(tc.FunctionCallID, tools.Normalize(v))
		}
	})
}

// stop cancels the stream of name and waits briefly for it to return.
func (l *Live) stop(ctx context.Context, name string) map[string]any {
	s, ok := l.streams.LoadAndDelete(name)
	if !ok {
		return map[string]any{"status": fmt.Sprintf("No active streaming function named %s found", name)}
	}

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		slog.Debug("Stream did not stop in time", "tool", name, "call_id", s.callID)
	case <-ctx.Done():
	}
	return map[string]any{"status": fmt.Sprintf("Successfully stopped streaming function %s", name)}
}
