package loader

import (
	"context"
	"fmt"

	"github.com/docker/agentcall/pkg/config"
	"github.com/docker/agentcall/pkg/tools"
	"github.com/docker/agentcall/pkg/tools/a2a"
	"github.com/docker/agentcall/pkg/tools/api"
	"github.com/docker/agentcall/pkg/tools/mcp"
)

// ToolsetCreator is a function that creates a toolset based on the provided configuration
type ToolsetCreator func(ctx context.Context, toolset config.Toolset, parentDir string) (tools.ToolSet, error)

// ToolsetRegistry manages the registration of toolset creators by type
type ToolsetRegistry struct {
	creators map[string]ToolsetCreator
}

func NewToolsetRegistry() *ToolsetRegistry {
	return &ToolsetRegistry{
		creators: make(map[string]ToolsetCreator),
	}
}

// Register adds a new toolset creator for the given type
func (r *ToolsetRegistry) Register(toolsetType string, creator ToolsetCreator) {
	r.creators[toolsetType] = creator
}

func (r *ToolsetRegistry) Get(toolsetType string) (ToolsetCreator, bool) {
	creator, ok := r.creators[toolsetType]
	return creator, ok
}

// CreateToolset creates a toolset using the registered creator for the given type
func (r *ToolsetRegistry) CreateToolset(ctx context.Context, toolset config.Toolset, parentDir string) (tools.ToolSet, error) {
	creator, ok := r.Get(toolset.Type)
	if !ok {
		return nil, fmt.Errorf("unknown toolset type: %s", toolset.Type)
	}
	return creator(ctx, toolset, parentDir)
}

func NewDefaultToolsetRegistry() *ToolsetRegistry {
	r := NewToolsetRegistry()
	r.Register(config.ToolsetAPI, createAPITool)
	r.Register(config.ToolsetMCP, createMCPTool)
	r.Register(config.ToolsetA2A, createA2ATool)
	return r
}

func createAPITool(_ context.Context, toolset config.Toolset, _ string) (tools.ToolSet, error) {
	ops := make([]api.Operation, 0, len(toolset.Operations))
	for _, op := range toolset.Operations {
		authCfg := config.AuthFor(op.Auth)
		if authCfg == nil {
			authCfg = config.AuthFor(toolset.Auth)
		}
		ops = append(ops, api.Operation{
			Name:        op.Name,
			Description: op.Description,
			Method:      op.Method,
			Endpoint:    op.Endpoint,
			Query:       op.Query,
			Headers:     op.Headers,
			Args:        op.Args,
			Required:    op.Required,
			LongRunning: op.LongRunning,
			Auth:        authCfg,
		})
	}
	return api.NewToolset(ops), nil
}

func createMCPTool(_ context.Context, toolset config.Toolset, parentDir string) (tools.ToolSet, error) {
	var opts []mcp.Opt
	if cfg := config.AuthFor(toolset.Auth); cfg != nil {
		opts = append(opts, mcp.WithAuth(*cfg))
	}

	if toolset.URL != "" {
		return mcp.NewRemoteToolset(toolset.Name, toolset.URL, toolset.Transport, toolset.Headers, opts...), nil
	}

	env, err := commandEnv(parentDir, toolset.EnvFiles, toolset.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to read the tool's environment: %w", err)
	}
	cwd, err := resolvePath(parentDir, toolset.Cwd)
	if err != nil {
		return nil, fmt.Errorf("invalid working directory: %w", err)
	}
	if cwd == "" {
		cwd = parentDir
	}

	return mcp.NewToolsetCommand(toolset.Name, toolset.Command, toolset.Args, env, cwd, opts...), nil
}

func createA2ATool(_ context.Context, toolset config.Toolset, _ string) (tools.ToolSet, error) {
	var opts []a2a.Opt
	if cfg := config.AuthFor(toolset.Auth); cfg != nil {
		opts = append(opts, a2a.WithAuth(*cfg))
	}
	return a2a.NewToolset(toolset.Name, toolset.URL, toolset.Headers, opts...), nil
}
