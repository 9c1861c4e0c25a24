// Package tools describes the capabilities a model can call and the
// per-call context their executors run with.
package tools

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/docker/agentcall/pkg/auth"
)

var ErrDuplicateTool = errors.New("duplicate tool name")

// ToolHandler executes one call. A nil result from a long-running tool
// means the call completes later.
type ToolHandler func(ctx context.Context, tc *Context, args map[string]any) (any, error)

// StreamHandler executes a call whose output arrives in pieces. It is only
// used by live dispatch; yield may be called any number of times and the
// handler must return once ctx is done.
type StreamHandler func(ctx context.Context, tc *Context, args map[string]any, yield func(any)) error

// Reinitializer is implemented by executors that talk over one persistent
// session and can re-establish it after ErrSessionClosed.
type Reinitializer interface {
	Reinitialize(ctx context.Context) error
}

// Tool describes one invocable capability. It is immutable once registered.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments. Calls are validated
	// against it when set.
	Parameters  map[string]any
	LongRunning bool
	// Auth is the credential the tool needs before it can run.
	Auth    *auth.Config
	Handler ToolHandler
	Stream  StreamHandler
	Session Reinitializer
}

// ToolSet is a source of tools, such as a remote server or a local package.
type ToolSet interface {
	Tools(ctx context.Context) ([]Tool, error)
}

// Startable is implemented by toolsets that hold a connection.
type Startable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry resolves a call name to a tool.
type Registry interface {
	Tool(name string) (Tool, bool)
}

// Map is a Registry fixed at construction.
type Map struct {
	tools map[string]Tool
}

var _ Registry = (*Map)(nil)

func NewMap(ts ...Tool) (*Map, error) {
	m := &Map{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, exists := m.tools[t.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		m.tools[t.Name] = t
	}
	return m, nil
}

// Collect starts every toolset and gathers their tools into one Map.
func Collect(ctx context.Context, toolsets ...ToolSet) (*Map, error) {
	var all []Tool
	for _, ts := range toolsets {
		if startable, ok := ts.(Startable); ok {
			if err := startable.Start(ctx); err != nil {
				return nil, fmt.Errorf("starting toolset: %w", err)
			}
		}
		list, err := ts.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing tools: %w", err)
		}
		all = append(all, list...)
	}
	return NewMap(all...)
}

func (m *Map) Tool(name string) (Tool, bool) {
	t, ok := m.tools[name]
	return t, ok
}

func (m *Map) Names() []string {
	return slices.Sorted(maps.Keys(m.tools))
}
