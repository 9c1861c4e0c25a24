// Package hooks intercepts tool calls before and after execution.
//
// Hooks are plain functions. Shell command hooks configured in YAML are
// adapted into the same functions by Executor.Callbacks.
package hooks

import (
	"context"

	"github.com/docker/agentcall/pkg/tools"
)

// BeforeFunc runs before a tool executes. Returning a non-empty map skips the
// execution and uses the map as the call's result. Hooks may edit args in
// place.
type BeforeFunc func(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (map[string]any, error)

// AfterFunc runs once a tool completed. Returning a non-empty map replaces
// the result.
type AfterFunc func(ctx context.Context, tc *tools.Context, tool tools.Tool, args, result map[string]any) (map[string]any, error)

// Callbacks is the ordered set of hooks applied to every call.
type Callbacks struct {
	Before []BeforeFunc
	After  []AfterFunc
}

// Join returns the hooks of c followed by those of other.
func (c Callbacks) Join(other Callbacks) Callbacks {
	return Callbacks{
		Before: append(append([]BeforeFunc(nil), c.Before...), other.Before...),
		After:  append(append([]AfterFunc(nil), c.After...), other.After...),
	}
}

// RunBefore calls the before hooks in order and stops at the first one that
// returns a result or an error.
func (c Callbacks) RunBefore(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (map[string]any, error) {
	for _, h := range c.Before {
		result, err := h(ctx, tc, tool, args)
		if err != nil {
			return nil, err
		}
		if len(result) > 0 {
			return result, nil
		}
	}
	return nil, nil
}

// RunAfter calls the after hooks in order and stops at the first one that
// returns a replacement or an error.
func (c Callbacks) RunAfter(ctx context.Context, tc *tools.Context, tool tools.Tool, args, result map[string]any) (map[string]any, error) {
	for _, h := range c.After {
		replaced, err := h(ctx, tc, tool, args, result)
		if err != nil {
			return nil, err
		}
		if len(replaced) > 0 {
			return replaced, nil
		}
	}
	return nil, nil
}
