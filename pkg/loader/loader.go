// Package loader turns a configuration into a ready dispatcher: state
// backend, credential handshake, toolsets and hooks.
package loader

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/agentcall/pkg/auth/handshake"
	"github.com/docker/agentcall/pkg/config"
	"github.com/docker/agentcall/pkg/hooks"
	"github.com/docker/agentcall/pkg/paths"
	"github.com/docker/agentcall/pkg/runtime"
	"github.com/docker/agentcall/pkg/state"
	"github.com/docker/agentcall/pkg/tools"
)

// Loaded is everything a configuration produced. Close releases it.
type Loaded struct {
	Dispatcher *runtime.Dispatcher
	Tools      *tools.Map
	Store      state.Store
	Auth       *handshake.Handler

	toolsets []*tools.StartableToolSet
}

type Opt func(*options)

type options struct {
	registry    *ToolsetRegistry
	runtimeOpts []runtime.Opt
}

// WithToolsetRegistry replaces the default api/mcp/a2a creators.
func WithToolsetRegistry(r *ToolsetRegistry) Opt {
	return func(o *options) {
		o.registry = r
	}
}

// WithRuntimeOptions passes extra options to the dispatcher.
func WithRuntimeOptions(opts ...runtime.Opt) Opt {
	return func(o *options) {
		o.runtimeOpts = append(o.runtimeOpts, opts...)
	}
}

// Load builds the dispatcher described by cfg. Relative paths in cfg are
// resolved against parentDir.
func Load(ctx context.Context, cfg *config.Config, parentDir string, opts ...Opt) (*Loaded, error) {
	o := options{registry: NewDefaultToolsetRegistry()}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := OpenStore(ctx, cfg.State, parentDir)
	if err != nil {
		return nil, err
	}
	l := &Loaded{
		Store: store,
		Auth:  handshake.New(store),
	}

	for _, ts := range cfg.Toolsets {
		toolset, err := o.registry.CreateToolset(ctx, ts, parentDir)
		if err != nil {
			_ = l.Close(ctx)
			return nil, fmt.Errorf("toolset %q: %w", ts.Name, err)
		}
		l.toolsets = append(l.toolsets, tools.NewStartable(toolset))
	}

	collected := make([]tools.ToolSet, 0, len(l.toolsets))
	for _, ts := range l.toolsets {
		collected = append(collected, ts)
	}
	l.Tools, err = tools.Collect(ctx, collected...)
	if err != nil {
		_ = l.Close(ctx)
		return nil, err
	}
	slog.Debug("Loaded tools", "count", len(l.Tools.Names()))

	runtimeOpts := []runtime.Opt{
		runtime.WithStore(store),
		runtime.WithAuthHandler(l.Auth),
		runtime.WithMaxConcurrency(cfg.MaxConcurrency),
	}
	if !cfg.Hooks.IsEmpty() {
		executor := hooks.NewExecutor(cfg.Hooks, cmp.Or(parentDir, "."), os.Environ())
		runtimeOpts = append(runtimeOpts, runtime.WithHooks(executor.Callbacks()))
	}
	l.Dispatcher = runtime.New(l.Tools, append(runtimeOpts, o.runtimeOpts...)...)

	return l, nil
}

// OpenStore opens the configured state backend.
func OpenStore(ctx context.Context, cfg config.StateConfig, parentDir string) (state.Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return state.NewMemory(), nil
	case config.BackendSQLite:
		path, err := resolvePath(parentDir, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
		db, err := state.NewSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendKeyring:
		dir, err := resolvePath(parentDir, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
		var password string
		if cfg.Keyring.PasswordEnv != "" {
			password = os.Getenv(cfg.Keyring.PasswordEnv)
		}
		ring, err := state.NewKeyring(state.KeyringConfig{
			ServiceName: cfg.Keyring.Service,
			Backend:     cfg.Keyring.Backend,
			Dir:         cmp.Or(dir, filepath.Join(paths.GetDataDir(), "keyring")),
			Password:    password,
		})
		if err != nil {
			return nil, err
		}
		return ring, nil
	default:
		return nil, fmt.Errorf("state: unknown backend %q", cfg.Backend)
	}
}

// Instructions joins what the connected servers say about their tools.
func (l *Loaded) Instructions() string {
	var parts []string
	for _, ts := range l.toolsets {
		if s := strings.TrimSpace(tools.GetInstructions(ts)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Close stops every started toolset and closes the state store.
func (l *Loaded) Close(ctx context.Context) error {
	var errs []error
	for _, ts := range l.toolsets {
		if err := ts.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := l.Store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
