package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/config"
	"github.com/docker/agentcall/pkg/state"
	"github.com/docker/agentcall/pkg/tools"
)

type staticToolset struct {
	list    []tools.Tool
	stopped bool
}

func (s *staticToolset) Tools(context.Context) ([]tools.Tool, error) { return s.list, nil }
func (s *staticToolset) Start(context.Context) error                 { return nil }
func (s *staticToolset) Stop(context.Context) error {
	s.stopped = true
	return nil
}

func TestLoadAPIToolsetWithSQLite(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "k1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"city":"` + strings.TrimPrefix(r.URL.Path, "/forecast/") + `"}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	yaml := `
max_concurrency: 2
state:
  backend: sqlite
  path: state.db
toolsets:
  - name: weather
    type: api
    auth:
      authScheme: {type: apiKey, in: header, name: X-Key}
      rawAuthCredential: {authType: apiKey, apiKey: k1}
    operations:
      - name: forecast
        endpoint: ` + srv.URL + `/forecast/{city}
        args:
          city: {type: string}
        required: [city]
`
	cfg, err := config.Load(t.Context(), config.NewBytesSource("agent.yaml", []byte(yaml)))
	require.NoError(t, err)

	ctx := t.Context()
	loaded, err := Load(ctx, cfg, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loaded.Close(context.Background()) })

	assert.FileExists(t, filepath.Join(dir, "state.db"))
	assert.IsType(t, &state.SQLite{}, loaded.Store)
	assert.Equal(t, []string{"forecast"}, loaded.Tools.Names())

	call := []*genai.FunctionCall{{ID: "c1", Name: "forecast", Args: map[string]any{"city": "paris"}}}

	// A complete api key is stored on first use, no consent round trip.
	reply := loaded.Dispatcher.Dispatch(ctx, call)
	require.NotNil(t, reply)
	assert.Nil(t, reply.AuthRequest)
	require.Len(t, reply.Responses, 1)
	assert.Equal(t, map[string]any{"city": "paris"}, reply.Responses[0].Response)

	tool, _ := loaded.Tools.Tool("forecast")
	stored, err := state.GetJSON[*auth.Credential](ctx, loaded.Store, tool.Auth.Key())
	require.NoError(t, err)
	assert.Equal(t, "k1", stored.APIKey)
}

func TestLoadCustomRegistry(t *testing.T) {
	t.Parallel()

	ts := &staticToolset{list: []tools.Tool{{
		Name: "ping",
		Handler: func(context.Context, *tools.Context, map[string]any) (any, error) {
			return "pong", nil
		},
	}}}
	registry := NewToolsetRegistry()
	registry.Register("static", func(context.Context, config.Toolset, string) (tools.ToolSet, error) {
		return ts, nil
	})

	cfg := &config.Config{Toolsets: []config.Toolset{{Name: "s", Type: "static"}}}
	loaded, err := Load(t.Context(), cfg, t.TempDir(), WithToolsetRegistry(registry))
	require.NoError(t, err)

	reply := loaded.Dispatcher.Dispatch(t.Context(), []*genai.FunctionCall{{ID: "c1", Name: "ping"}})
	require.NotNil(t, reply)
	assert.Equal(t, map[string]any{"result": "pong"}, reply.Responses[0].Response)

	require.NoError(t, loaded.Close(t.Context()))
	assert.True(t, ts.stopped)
}

func TestLoadUnknownToolsetType(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Toolsets: []config.Toolset{{Name: "x", Type: "grpc"}}}
	_, err := Load(t.Context(), cfg, t.TempDir())
	require.ErrorContains(t, err, `toolset "x": unknown toolset type: grpc`)
}

func TestCreateAPIToolInheritsToolsetAuth(t *testing.T) {
	t.Parallel()

	own := &config.AuthConfig{Config: auth.Config{Scheme: auth.Scheme{Type: auth.SchemeHTTP, HTTPScheme: "bearer"}}}
	shared := &config.AuthConfig{Config: auth.Config{Scheme: auth.Scheme{Type: auth.SchemeAPIKey, In: "header", Name: "X-Key"}}}

	ts, err := createAPITool(t.Context(), config.Toolset{
		Name: "svc",
		Type: config.ToolsetAPI,
		Auth: shared,
		Operations: []config.Operation{
			{Name: "a", Endpoint: "https://example.com/a"},
			{Name: "b", Endpoint: "https://example.com/b", Auth: own},
		},
	}, "")
	require.NoError(t, err)

	list, err := ts.Tools(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, auth.SchemeAPIKey, list[0].Auth.Scheme.Type)
	assert.Equal(t, auth.SchemeHTTP, list[1].Auth.Scheme.Type)
}

type instructedToolset struct {
	staticToolset
	text string
}

func (i *instructedToolset) Instructions() string { return i.text }

func TestLoadedInstructions(t *testing.T) {
	t.Parallel()

	registry := NewToolsetRegistry()
	registry.Register("doc", func(_ context.Context, ts config.Toolset, _ string) (tools.ToolSet, error) {
		return &instructedToolset{text: ts.Name + " tools read files"}, nil
	})
	registry.Register("plain", func(context.Context, config.Toolset, string) (tools.ToolSet, error) {
		return &staticToolset{}, nil
	})

	cfg := &config.Config{Toolsets: []config.Toolset{
		{Name: "a", Type: "doc"},
		{Name: "b", Type: "plain"},
		{Name: "c", Type: "doc"},
	}}
	loaded, err := Load(t.Context(), cfg, t.TempDir(), WithToolsetRegistry(registry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = loaded.Close(context.Background()) })

	assert.Equal(t, "a tools read files\n\nc tools read files", loaded.Instructions())
}
