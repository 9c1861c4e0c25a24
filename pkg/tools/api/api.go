// Package api executes REST operations whose shape is known ahead of time.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/httpclient"
	"github.com/docker/agentcall/pkg/tools"
)

const maxResponseSize = 1 << 20

var pathParam = regexp.MustCompile(`\{([^{}]+)\}`)

// Operation is one callable HTTP endpoint. Endpoint may hold {name}
// placeholders that are filled from the call arguments.
type Operation struct {
	Name        string
	Description string
	Method      string
	Endpoint    string
	// Query lists the arguments always sent as query parameters. For
	// methods without a body every argument is.
	Query    []string
	Headers  map[string]string
	Args     map[string]any
	Required []string

	LongRunning bool
	Auth        *auth.Config
}

// Toolset exposes a fixed list of operations as tools.
type Toolset struct {
	ops    []Operation
	client *http.Client
}

var _ tools.ToolSet = (*Toolset)(nil)

type Opt func(*Toolset)

func WithHTTPClient(c *http.Client) Opt {
	return func(t *Toolset) {
		t.client = c
	}
}

func NewToolset(ops []Operation, opts ...Opt) *Toolset {
	t := &Toolset{ops: ops}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = httpclient.NewHTTPClient(httpclient.WithTimeout(30 * time.Second))
	}
	return t
}

func (t *Toolset) Tools(context.Context) ([]tools.Tool, error) {
	result := make([]tools.Tool, 0, len(t.ops))
	for _, op := range t.ops {
		if err := validateEndpoint(op.Endpoint); err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.Name, err)
		}

		args := op.Args
		if args == nil {
			args = map[string]any{}
		}
		params := map[string]any{
			"type":       "object",
			"properties": args,
		}
		if len(op.Required) > 0 {
			params["required"] = op.Required
		}

		result = append(result, tools.Tool{
			Name:        op.Name,
			Description: op.Description,
			Parameters:  params,
			LongRunning: op.LongRunning,
			Auth:        op.Auth,
			Handler:     t.handler(op),
		})
	}
	return result, nil
}

func validateEndpoint(endpoint string) error {
	// Placeholders are not valid URL syntax in every position.
	parsed, err := url.Parse(pathParam.ReplaceAllString(endpoint, "x"))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing scheme or host")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only HTTP and HTTPS URLs are supported")
	}
	return nil
}

func (t *Toolset) handler(op Operation) tools.ToolHandler {
	method := strings.ToUpper(op.Method)
	if method == "" {
		method = http.MethodGet
	}

	return func(ctx context.Context, tc *tools.Context, args map[string]any) (any, error) {
		req, err := buildRequest(ctx, method, op, args)
		if err != nil {
			return nil, err
		}
		if op.Auth != nil {
			if err := httpclient.Apply(req, op.Auth.Scheme, tc.Credential()); err != nil {
				return nil, err
			}
		}

		slog.Debug("Calling API operation", "tool", op.Name, "method", method, "url", req.URL.Redacted())

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%s %s returned %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return map[string]any{"status": resp.StatusCode}, nil
		}

		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return string(body), nil
		}
		return decoded, nil
	}
}

func buildRequest(ctx context.Context, method string, op Operation, args map[string]any) (*http.Request, error) {
	rest := maps.Clone(args)
	if rest == nil {
		rest = map[string]any{}
	}

	var missing []string
	endpoint := pathParam.ReplaceAllStringFunc(op.Endpoint, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := rest[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		delete(rest, name)
		return url.PathEscape(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing path parameters: %s", strings.Join(missing, ", "))
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	hasBody := method != http.MethodGet && method != http.MethodDelete && method != http.MethodHead
	q := u.Query()
	for _, name := range slices.Sorted(maps.Keys(rest)) {
		if hasBody && !slices.Contains(op.Query, name) {
			continue
		}
		q.Set(name, fmt.Sprint(rest[name]))
		delete(rest, name)
	}
	u.RawQuery = q.Encode()

	var body io.Reader = http.NoBody
	if hasBody && len(rest) > 0 {
		data, err := json.Marshal(rest)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range op.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}
