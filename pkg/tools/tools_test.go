package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agentcall/pkg/auth"
)

type staticToolSet struct {
	tools   []Tool
	started atomic.Bool
}

func (s *staticToolSet) Tools(context.Context) ([]Tool, error) { return s.tools, nil }
func (s *staticToolSet) Start(context.Context) error          { s.started.Store(true); return nil }
func (s *staticToolSet) Stop(context.Context) error           { return nil }

func TestCollect(t *testing.T) {
	t.Parallel()

	a := &staticToolSet{tools: []Tool{{Name: "b"}, {Name: "a"}}}
	m, err := Collect(t.Context(), a)
	require.NoError(t, err)

	assert.True(t, a.started.Load())
	assert.Equal(t, []string{"a", "b"}, m.Names())

	tool, ok := m.Tool("a")
	assert.True(t, ok)
	assert.Equal(t, "a", tool.Name)

	_, ok = m.Tool("missing")
	assert.False(t, ok)

	_, err = Collect(t.Context(), a, &staticToolSet{tools: []Tool{{Name: "a"}}})
	require.ErrorIs(t, err, ErrDuplicateTool)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	type point struct {
		X int `json:"x"`
	}

	tests := []struct {
		name string
		in   any
		want map[string]any
	}{
		{name: "nil", in: nil, want: map[string]any{"result": nil}},
		{name: "map passes through", in: map[string]any{"x": 1}, want: map[string]any{"x": 1}},
		{name: "string", in: "hello", want: map[string]any{"result": "hello"}},
		{name: "int", in: 3, want: map[string]any{"result": 3}},
		{name: "struct", in: point{X: 2}, want: map[string]any{"x": float64(2)}},
		{name: "pointer to struct", in: &point{X: 2}, want: map[string]any{"x": float64(2)}},
		{name: "typed nil pointer", in: (*point)(nil), want: map[string]any{"result": nil}},
		{name: "slice", in: []string{"a"}, want: map[string]any{"result": []any{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNewFunctionTool(t *testing.T) {
	t.Parallel()

	type args struct {
		Query string `json:"query" description:"what to look for"`
		Limit int    `json:"limit,omitempty"`
	}

	tool := NewFunctionTool("search", "Search things", func(_ context.Context, tc *Context, a args) (map[string]any, error) {
		return map[string]any{"query": a.Query, "limit": a.Limit, "call": tc.FunctionCallID}, nil
	})

	assert.Equal(t, "search", tool.Name)
	assert.Equal(t, "object", tool.Parameters["type"])
	assert.Equal(t, []string{"query"}, tool.Parameters["required"])
	props := tool.Parameters["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string", "description": "what to look for"}, props["query"])
	assert.Equal(t, map[string]any{"type": "integer"}, props["limit"])

	tc := NewContext("c1", "search", nil)
	got, err := tool.Handler(t.Context(), tc, map[string]any{"query": "go", "limit": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "go", "limit": 3, "call": "c1"}, got)

	_, err = tool.Handler(t.Context(), tc, map[string]any{"query": 42})
	require.Error(t, err)
}

func TestNewFunctionToolLongRunningEmptyResult(t *testing.T) {
	t.Parallel()

	tool := NewFunctionTool("approve", "Ask for approval", func(context.Context, *Context, map[string]any) (*struct{}, error) {
		return nil, nil
	}, WithLongRunning())

	assert.True(t, tool.LongRunning)
	got, err := tool.Handler(t.Context(), NewContext("c1", "approve", nil), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContextRequestCredential(t *testing.T) {
	t.Parallel()

	cfg := auth.Config{Scheme: auth.Scheme{Type: auth.SchemeAPIKey}}
	tc := NewContext("c1", "tool", nil)

	_, ok := tc.RequestedCredential()
	assert.False(t, ok)

	tc.RequestCredential(cfg)
	got, ok := tc.RequestedCredential()
	require.True(t, ok)
	assert.Equal(t, cfg, got)
	assert.Contains(t, tc.Actions().RequestedAuthConfigs, "c1")

	_, err := tc.ResolveCredential(t.Context(), cfg)
	require.ErrorIs(t, err, auth.ErrNoCredentialAvailable)
}

func TestActionsMerge(t *testing.T) {
	t.Parallel()

	var a Actions
	assert.True(t, a.IsEmpty())

	a.Merge(Actions{StateDelta: map[string]any{"k": 1}, TransferToAgent: "x"})
	a.Merge(Actions{StateDelta: map[string]any{"k": 2}, Escalate: true})

	assert.False(t, a.IsEmpty())
	assert.Equal(t, map[string]any{"k": 2}, a.StateDelta)
	assert.Equal(t, "x", a.TransferToAgent)
	assert.True(t, a.Escalate)
}

type fakeSession struct {
	resets atomic.Int32
	err    error
}

func (f *fakeSession) Reinitialize(context.Context) error {
	f.resets.Add(1)
	return f.err
}

func TestRetryOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failures   int
		resetErr   error
		wantErr    bool
		wantCalls  int32
		wantResets int32
	}{
		{name: "success", failures: 0, wantCalls: 1},
		{name: "one closed session", failures: 1, wantCalls: 2, wantResets: 1},
		{name: "closed twice", failures: 2, wantErr: true, wantCalls: 2, wantResets: 1},
		{name: "reinitialize fails", failures: 1, resetErr: errors.New("dial"), wantErr: true, wantCalls: 1, wantResets: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			session := &fakeSession{err: tt.resetErr}
			h := RetryOnce(func(context.Context, *Context, map[string]any) (any, error) {
				if int(calls.Add(1)) <= tt.failures {
					return nil, ErrSessionClosed
				}
				return "ok", nil
			}, session)

			got, err := h(t.Context(), NewContext("c", "t", nil), nil)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrSessionClosed)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "ok", got)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.wantResets, session.resets.Load())
		})
	}
}

func TestRetryOnceIgnoresOtherErrors(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	boom := errors.New("boom")
	h := RetryOnce(func(context.Context, *Context, map[string]any) (any, error) {
		return nil, boom
	}, session)

	_, err := h(t.Context(), NewContext("c", "t", nil), nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), session.resets.Load())
}

type flakyToolSet struct {
	staticToolSet
	starts, stops int
	failFirst     bool
}

func (f *flakyToolSet) Start(context.Context) error {
	f.starts++
	if f.failFirst && f.starts == 1 {
		return errors.New("boom")
	}
	return nil
}

func (f *flakyToolSet) Stop(context.Context) error {
	f.stops++
	return nil
}

func (f *flakyToolSet) Instructions() string { return "use carefully" }

func TestStartableToolSet(t *testing.T) {
	t.Parallel()

	inner := &flakyToolSet{failFirst: true}
	ts := NewStartable(inner)

	require.NoError(t, ts.Stop(t.Context()))
	assert.Equal(t, 0, inner.stops, "never started")

	require.Error(t, ts.Start(t.Context()))
	assert.False(t, ts.IsStarted())

	require.NoError(t, ts.Start(t.Context()))
	require.NoError(t, ts.Start(t.Context()))
	assert.True(t, ts.IsStarted())
	assert.Equal(t, 2, inner.starts)

	require.NoError(t, ts.Stop(t.Context()))
	require.NoError(t, ts.Stop(t.Context()))
	assert.Equal(t, 1, inner.stops)
	assert.Same(t, inner, ts.Unwrap())
}

func TestGetInstructions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "use carefully", GetInstructions(NewStartable(&flakyToolSet{})))
	assert.Empty(t, GetInstructions(&staticToolSet{}))
}
