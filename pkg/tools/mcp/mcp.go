// Package mcp exposes the tools of a Model Context Protocol server, local
// or remote, as dispatchable tools.
package mcp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/httpclient"
	"github.com/docker/agentcall/pkg/tools"
)

// Toolset represents a set of MCP tools
type Toolset struct {
	name      string
	mcpClient mcpClient
	logID     string

	authConfig *auth.Config
	credential atomic.Pointer[auth.Credential]

	mu           sync.Mutex
	started      bool
	available    bool
	instructions string
}

var (
	_ tools.ToolSet       = (*Toolset)(nil)
	_ tools.Startable     = (*Toolset)(nil)
	_ tools.Reinitializer = (*Toolset)(nil)
)

type Opt func(*Toolset)

// WithAuth marks every tool of the server as needing cfg. For remote
// servers the credential obtained for a call is presented on the session's
// HTTP requests.
func WithAuth(cfg auth.Config) Opt {
	return func(ts *Toolset) {
		ts.authConfig = &cfg
		if cred := cmp.Or(cfg.ExchangedCredential, cfg.RawCredential); cred != nil {
			ts.credential.Store(cred)
		}
	}
}

// NewToolsetCommand creates a new MCP toolset from a command.
func NewToolsetCommand(name, command string, args, env []string, cwd string, opts ...Opt) *Toolset {
	slog.Debug("Creating Stdio MCP toolset", "command", command, "args", args)

	ts := &Toolset{
		name:      name,
		mcpClient: newSessionClient(commandTransport(command, args, env, cwd)),
		logID:     command,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// NewRemoteToolset creates a new MCP toolset from a remote MCP Server.
func NewRemoteToolset(name, url, transport string, headers map[string]string, opts ...Opt) *Toolset {
	slog.Debug("Creating Remote MCP toolset", "url", url, "transport", transport)

	ts := &Toolset{
		name:  name,
		logID: url,
	}
	for _, opt := range opts {
		opt(ts)
	}

	httpClient := httpclient.NewHTTPClient(
		httpclient.WithHeaders(headers),
		httpclient.WithCredentials(ts.currentCredential),
	)
	ts.mcpClient = newSessionClient(remoteTransport(url, transport, httpClient))
	return ts
}

func (ts *Toolset) currentCredential() (auth.Scheme, *auth.Credential) {
	if ts.authConfig == nil {
		return auth.Scheme{}, nil
	}
	return ts.authConfig.Scheme, ts.credential.Load()
}

func (ts *Toolset) Start(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return nil
	}

	err := ts.doStart(ctx)
	if err == nil {
		ts.started = true
	}
	return err
}

func (ts *Toolset) doStart(ctx context.Context) error {
	// The session outlives the request that first needed it.
	ctx = context.WithoutCancel(ctx)

	slog.Debug("Starting MCP toolset", "server", ts.logID)

	result, err := ts.initialize(ctx)
	if err != nil {
		// EOF means the MCP server is unavailable or closed the connection.
		// The toolset then contributes no tools instead of failing the caller.
		if errors.Is(err, io.EOF) {
			slog.Debug("MCP client unavailable (EOF), skipping MCP toolset", "server", ts.logID)
			return nil
		}
		return err
	}

	slog.Debug("Started MCP toolset successfully", "server", ts.logID)
	ts.instructions = result.Instructions
	ts.available = true
	return nil
}

func (ts *Toolset) initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	const maxRetries = 3
	for attempt := 0; ; attempt++ {
		result, err := ts.mcpClient.Initialize(ctx)
		if err == nil {
			return result, nil
		}
		// Remote servers sometimes finish their own init after answering the
		// initialize request, so only the initialized notification is retried.
		if !isInitNotificationSendError(err) {
			if !errors.Is(err, io.EOF) {
				slog.Error("Failed to initialize MCP client", "error", err)
			}
			return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
		}
		if attempt >= maxRetries {
			slog.Error("Failed to initialize MCP client after retries", "error", err)
			return nil, fmt.Errorf("failed to initialize MCP client after retries: %w", err)
		}
		backoff := time.Duration(200*(attempt+1)) * time.Millisecond
		slog.Debug("MCP initialize failed to send initialized notification; retrying", "id", ts.logID, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to initialize MCP client: %w", ctx.Err())
		}
	}
}

// Reinitialize replaces the session after the server dropped it.
func (ts *Toolset) Reinitialize(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	slog.Debug("Reinitializing MCP toolset", "server", ts.logID)

	result, err := ts.initialize(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	ts.instructions = result.Instructions
	ts.available = true
	ts.started = true
	return nil
}

func (ts *Toolset) Instructions() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.instructions
}

func (ts *Toolset) Tools(ctx context.Context) ([]tools.Tool, error) {
	ts.mu.Lock()
	started, available := ts.started, ts.available
	ts.mu.Unlock()
	if !started {
		return nil, errors.New("toolset not started")
	}
	if !available {
		return nil, nil
	}

	slog.Debug("Listing MCP tools")

	var toolsList []tools.Tool
	for t, err := range ts.mcpClient.ListTools(ctx, &mcp.ListToolsParams{}) {
		if err != nil {
			return nil, err
		}

		name := t.Name
		if ts.name != "" {
			name = fmt.Sprintf("%s_%s", ts.name, name)
		}

		var params map[string]any
		if t.InputSchema != nil {
			if err := tools.JSONRoundtrip(t.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("invalid input schema for tool %s: %w", t.Name, err)
			}
		}

		toolsList = append(toolsList, tools.Tool{
			Name:        name,
			Description: t.Description,
			Parameters:  params,
			Auth:        ts.authConfig,
			Handler:     ts.handler(t.Name),
			Session:     ts,
		})

		slog.Debug("Added MCP tool", "tool", name)
	}

	slog.Debug("Listed MCP tools", "count", len(toolsList))
	return toolsList, nil
}

func (ts *Toolset) handler(remoteName string) tools.ToolHandler {
	return func(ctx context.Context, tc *tools.Context, args map[string]any) (any, error) {
		ts.credential.Store(tc.Credential())
		return ts.callTool(ctx, remoteName, args)
	}
}

func (ts *Toolset) callTool(ctx context.Context, name string, args map[string]any) (any, error) {
	slog.Debug("Calling MCP tool", "tool", name, "arguments", args)

	// Models send null for omitted optional arguments, which strict
	// servers reject.
	args = maps.Clone(args)
	if args == nil {
		args = map[string]any{}
	}
	maps.DeleteFunc(args, func(_ string, v any) bool { return v == nil })

	resp, err := ts.mcpClient.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			slog.Debug("CallTool canceled by context", "tool", name)
			return nil, err
		}
		if isSessionClosed(err) {
			return nil, fmt.Errorf("%w: %w", tools.ErrSessionClosed, err)
		}
		slog.Error("Failed to call MCP tool", "tool", name, "error", err)
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	return processMCPContent(resp)
}

func (ts *Toolset) Stop(ctx context.Context) error {
	slog.Debug("Stopping MCP toolset", "server", ts.logID)

	if err := ts.mcpClient.Close(context.WithoutCancel(ctx)); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("Failed to stop MCP toolset", "server", ts.logID, "error", err)
		return err
	}

	ts.mu.Lock()
	ts.started = false
	ts.available = false
	ts.mu.Unlock()

	slog.Debug("Stopped MCP toolset successfully", "server", ts.logID)
	return nil
}

// isInitNotificationSendError returns true if initialization failed while sending the
// notifications/initialized message to the server.
func isInitNotificationSendError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "failed to send initialized notification")
}

func isSessionClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, errNotConnected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") || strings.Contains(msg, "session closed")
}

func processMCPContent(toolResult *mcp.CallToolResult) (any, error) {
	var text strings.Builder
	for _, resultContent := range toolResult.Content {
		if textContent, ok := resultContent.(*mcp.TextContent); ok {
			text.WriteString(textContent.Text)
		}
	}

	if toolResult.IsError {
		return nil, errors.New(cmp.Or(text.String(), "tool reported an error"))
	}

	if toolResult.StructuredContent != nil {
		var structured map[string]any
		if err := tools.JSONRoundtrip(toolResult.StructuredContent, &structured); err == nil && structured != nil {
			return structured, nil
		}
	}

	// Handle an empty response. This can happen if the MCP tool does not return any content.
	return cmp.Or(text.String(), "no output"), nil
}
