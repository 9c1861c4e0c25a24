// Package config loads the YAML file describing the toolsets, hooks and
// state backend a dispatcher runs with.
package config

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/hooks"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func Load(ctx context.Context, source Source) (*Config, error) {
	data, err := source.Read(ctx)
	if err != nil {
		return nil, err
	}

	data = expandEnv(data, os.LookupEnv)

	var cfg Config
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parsing config file %s\n%s", source.Name(), yaml.FormatError(err, false, true))
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv replaces ${NAME} references. Bare $NAME is left alone so that
// hook commands keep their shell variables.
func expandEnv(data []byte, lookup func(string) (string, bool)) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		if v, ok := lookup(name); ok {
			return []byte(v)
		}
		return nil
	})
}

func validateConfig(cfg *Config) error {
	if cfg.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative, got %d", cfg.MaxConcurrency)
	}

	if err := validateState(&cfg.State); err != nil {
		return err
	}

	names := map[string]bool{}
	for i := range cfg.Toolsets {
		ts := &cfg.Toolsets[i]
		if ts.Name == "" {
			return fmt.Errorf("toolset #%d: name is required", i+1)
		}
		if names[ts.Name] {
			return fmt.Errorf("toolset %q: duplicate name", ts.Name)
		}
		names[ts.Name] = true

		if err := validateToolset(ts); err != nil {
			return fmt.Errorf("toolset %q: %w", ts.Name, err)
		}
	}

	return validateHooks(cfg.Hooks)
}

func validateState(s *StateConfig) error {
	s.Backend = cmp.Or(s.Backend, BackendMemory)

	switch s.Backend {
	case BackendMemory, BackendKeyring:
		return nil
	case BackendSQLite:
		if s.Path == "" {
			return errors.New("state: sqlite backend requires a path")
		}
		return nil
	default:
		return fmt.Errorf("state: unknown backend %q", s.Backend)
	}
}

func validateToolset(ts *Toolset) error {
	if err := validateAuth(ts.Auth); err != nil {
		return err
	}

	switch ts.Type {
	case ToolsetAPI:
		if len(ts.Operations) == 0 {
			return errors.New("api toolset requires at least one operation")
		}
		seen := map[string]bool{}
		for _, op := range ts.Operations {
			if op.Name == "" || op.Endpoint == "" {
				return errors.New("operations require a name and an endpoint")
			}
			if seen[op.Name] {
				return fmt.Errorf("duplicate operation %q", op.Name)
			}
			seen[op.Name] = true
			if err := validateAuth(op.Auth); err != nil {
				return fmt.Errorf("operation %q: %w", op.Name, err)
			}
		}
	case ToolsetMCP:
		if (ts.Command == "") == (ts.URL == "") {
			return errors.New("mcp toolset requires exactly one of command or url")
		}
		if !slices.Contains([]string{"", "sse", "streamable", "streamable-http"}, ts.Transport) {
			return fmt.Errorf("unsupported transport %q", ts.Transport)
		}
	case ToolsetA2A:
		if ts.URL == "" {
			return errors.New("a2a toolset requires a url")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown type %q", ts.Type)
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if a == nil {
		return nil
	}
	switch a.Scheme.Type {
	case auth.SchemeAPIKey, auth.SchemeHTTP, auth.SchemeOAuth2, auth.SchemeOpenIDConnect:
		return nil
	case "":
		return errors.New("auth: authScheme.type is required")
	default:
		return fmt.Errorf("auth: unknown scheme type %q", a.Scheme.Type)
	}
}

func validateHooks(h *hooks.Config) error {
	if h.IsEmpty() {
		return nil
	}
	for _, group := range [][]hooks.MatcherConfig{h.PreToolUse, h.PostToolUse} {
		for _, m := range group {
			if m.Matcher != "" && m.Matcher != "*" {
				if _, err := regexp.Compile(m.Matcher); err != nil {
					return fmt.Errorf("hooks: invalid matcher %q: %w", m.Matcher, err)
				}
			}
			for _, hook := range m.Hooks {
				if hook.Type != hooks.HookTypeCommand {
					return fmt.Errorf("hooks: unsupported hook type %q", hook.Type)
				}
				if hook.Command == "" {
					return errors.New("hooks: command hooks require a command")
				}
			}
		}
	}
	return nil
}
