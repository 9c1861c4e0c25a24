package tools

import (
	"context"
	"fmt"
	"reflect"

	"github.com/docker/agentcall/pkg/auth"
)

type FunctionOpt func(*Tool)

func WithLongRunning() FunctionOpt {
	return func(t *Tool) {
		t.LongRunning = true
	}
}

func WithAuth(cfg auth.Config) FunctionOpt {
	return func(t *Tool) {
		t.Auth = &cfg
	}
}

// WithParameters overrides the schema derived from the argument type.
func WithParameters(schema map[string]any) FunctionOpt {
	return func(t *Tool) {
		t.Parameters = schema
	}
}

// NewFunctionTool exposes a Go function as a tool. The call arguments are
// decoded into A through JSON.
func NewFunctionTool[A, R any](name, description string, fn func(ctx context.Context, tc *Context, args A) (R, error), opts ...FunctionOpt) Tool {
	t := Tool{
		Name:        name,
		Description: description,
		Handler: func(ctx context.Context, tc *Context, raw map[string]any) (any, error) {
			var args A
			if err := JSONRoundtrip(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			result, err := fn(ctx, tc, args)
			if err != nil {
				return nil, err
			}
			if IsEmpty(result) {
				return nil, nil
			}
			return result, nil
		},
	}

	if argType := reflect.TypeFor[A](); argType.Kind() == reflect.Struct ||
		(argType.Kind() == reflect.Pointer && argType.Elem().Kind() == reflect.Struct) {
		t.Parameters = SchemaFor(argType)
	}

	for _, opt := range opts {
		opt(&t)
	}
	return t
}
