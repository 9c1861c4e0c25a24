package mcp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/agentcall/pkg/version"
)

var errNotConnected = errors.New("mcp session not initialized")

type mcpClient interface {
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request *mcp.ListToolsParams) iter.Seq2[*mcp.Tool, error]
	CallTool(ctx context.Context, request *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close(ctx context.Context) error
}

// transportFactory returns a fresh transport for every connection attempt.
// Command transports own their process, so they cannot be reused.
type transportFactory func(ctx context.Context) (mcp.Transport, error)

// sessionClient holds one client session and replaces it on Initialize.
type sessionClient struct {
	connect transportFactory

	mu      sync.RWMutex
	session *mcp.ClientSession
}

func newSessionClient(connect transportFactory) *sessionClient {
	return &sessionClient{connect: connect}
}

func commandTransport(command string, args, env []string, cwd string) transportFactory {
	return func(context.Context) (mcp.Transport, error) {
		// The process must outlive the context that started it.
		cmd := exec.Command(command, args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Dir = cwd
		return &mcp.CommandTransport{Command: cmd}, nil
	}
}

func remoteTransport(url, transportType string, httpClient *http.Client) transportFactory {
	return func(context.Context) (mcp.Transport, error) {
		switch transportType {
		case "sse":
			return &mcp.SSEClientTransport{
				Endpoint:   url,
				HTTPClient: httpClient,
			}, nil
		case "", "streamable", "streamable-http":
			return &mcp.StreamableClientTransport{
				Endpoint:   url,
				HTTPClient: httpClient,
			}, nil
		default:
			return nil, fmt.Errorf("unsupported transport type: %s", transportType)
		}
	}
}

func (c *sessionClient) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	transport, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "agentcall",
		Version: version.Version,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	c.mu.Lock()
	previous := c.session
	c.session = session
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			slog.Debug("Closing previous MCP session", "error", err)
		}
	}

	return session.InitializeResult(), nil
}

func (c *sessionClient) current() *mcp.ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *sessionClient) ListTools(ctx context.Context, request *mcp.ListToolsParams) iter.Seq2[*mcp.Tool, error] {
	session := c.current()
	if session == nil {
		return func(yield func(*mcp.Tool, error) bool) {
			yield(nil, errNotConnected)
		}
	}
	return session.Tools(ctx, request)
}

func (c *sessionClient) CallTool(ctx context.Context, request *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	session := c.current()
	if session == nil {
		return nil, errNotConnected
	}
	return session.CallTool(ctx, request)
}

func (c *sessionClient) Close(context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}
