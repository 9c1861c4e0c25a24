package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/hooks"
)

func TestLoadFile(t *testing.T) {
	t.Setenv("WEATHER_KEY", "w-123")
	t.Setenv("CALENDAR_SECRET", "shh")

	cfg, err := Load(t.Context(), NewFileSource("testdata/agent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, StateConfig{Backend: BackendSQLite, Path: "./state.db"}, cfg.State)
	require.Len(t, cfg.Toolsets, 4)

	weather := cfg.Toolsets[0]
	assert.Equal(t, ToolsetAPI, weather.Type)
	require.Len(t, weather.Operations, 2)
	forecast := weather.Operations[0]
	assert.Equal(t, []string{"city"}, forecast.Required)
	assert.Equal(t, map[string]any{"city": map[string]any{"type": "string"}}, forecast.Args)
	require.NotNil(t, forecast.Auth)
	assert.Equal(t, auth.Scheme{Type: auth.SchemeAPIKey, In: "query", Name: "key"}, forecast.Auth.Scheme)
	assert.Equal(t, "w-123", forecast.Auth.RawCredential.APIKey)
	assert.True(t, weather.Operations[1].LongRunning)
	assert.Equal(t, []string{"dry_run"}, weather.Operations[1].Query)

	calendar := cfg.Toolsets[1]
	require.NotNil(t, calendar.Auth)
	assert.Equal(t, auth.SchemeOpenIDConnect, calendar.Auth.Scheme.Type)
	assert.Equal(t, []string{"openid", "calendar"}, calendar.Auth.Scheme.Scopes)
	assert.Equal(t, "shh", calendar.Auth.RawCredential.OAuth2.ClientSecret)
	assert.Equal(t, map[string]string{"X-Team": "platform"}, calendar.Headers)

	files := cfg.Toolsets[2]
	assert.Equal(t, "fs-server", files.Command)
	assert.Equal(t, []string{"--root", "/tmp"}, files.Args)

	assert.Equal(t, ToolsetA2A, cfg.Toolsets[3].Type)

	require.False(t, cfg.Hooks.IsEmpty())
	hook := cfg.Hooks.PreToolUse[0].Hooks[0]
	assert.Equal(t, hooks.HookTypeCommand, hook.Type)
	assert.Equal(t, "echo $TOOL", hook.Command)
	assert.Equal(t, 5, hook.Timeout)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(t.Context(), NewBytesSource("empty", []byte("toolsets: []\n")))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.State.Backend)
	assert.Zero(t, cfg.MaxConcurrency)
	assert.True(t, cfg.Hooks.IsEmpty())
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "negative concurrency",
			yaml:    "max_concurrency: -1",
			wantErr: "max_concurrency must not be negative",
		},
		{
			name:    "unknown field",
			yaml:    "max_concurrent: 2",
			wantErr: "parsing config file",
		},
		{
			name:    "unknown backend",
			yaml:    "state: {backend: redis}",
			wantErr: `unknown backend "redis"`,
		},
		{
			name:    "sqlite without path",
			yaml:    "state: {backend: sqlite}",
			wantErr: "sqlite backend requires a path",
		},
		{
			name:    "missing name",
			yaml:    "toolsets: [{type: a2a, url: http://x}]",
			wantErr: "toolset #1: name is required",
		},
		{
			name:    "duplicate name",
			yaml:    "toolsets: [{name: a, type: a2a, url: http://x}, {name: a, type: a2a, url: http://y}]",
			wantErr: `toolset "a": duplicate name`,
		},
		{
			name:    "unknown type",
			yaml:    "toolsets: [{name: a, type: grpc}]",
			wantErr: `toolset "a": unknown type "grpc"`,
		},
		{
			name:    "api without operations",
			yaml:    "toolsets: [{name: a, type: api}]",
			wantErr: `toolset "a": api toolset requires at least one operation`,
		},
		{
			name:    "mcp with command and url",
			yaml:    "toolsets: [{name: m, type: mcp, command: x, url: http://x}]",
			wantErr: `toolset "m": mcp toolset requires exactly one of command or url`,
		},
		{
			name:    "mcp transport",
			yaml:    "toolsets: [{name: m, type: mcp, url: http://x, transport: websocket}]",
			wantErr: `toolset "m": unsupported transport "websocket"`,
		},
		{
			name:    "a2a without url",
			yaml:    "toolsets: [{name: p, type: a2a}]",
			wantErr: `toolset "p": a2a toolset requires a url`,
		},
		{
			name:    "auth without scheme",
			yaml:    "toolsets: [{name: p, type: a2a, url: http://x, auth: {rawAuthCredential: {authType: apiKey}}}]",
			wantErr: `toolset "p": auth: authScheme.type is required`,
		},
		{
			name:    "operation auth",
			yaml:    "toolsets: [{name: a, type: api, operations: [{name: op, endpoint: http://x, auth: {authScheme: {type: kerberos}}}]}]",
			wantErr: `toolset "a": operation "op": auth: unknown scheme type "kerberos"`,
		},
		{
			name:    "bad matcher",
			yaml:    "hooks: {pre_tool_use: [{matcher: '(', hooks: [{type: command, command: x}]}]}",
			wantErr: "hooks: invalid matcher",
		},
		{
			name:    "empty hook command",
			yaml:    "hooks: {post_tool_use: [{matcher: '*', hooks: [{type: command}]}]}",
			wantErr: "hooks: command hooks require a command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(t.Context(), NewBytesSource(tt.name, []byte(tt.yaml)))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{"TOKEN": "abc", "EMPTY": ""}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	tests := []struct {
		in   string
		want string
	}{
		{in: "key: ${TOKEN}", want: "key: abc"},
		{in: "key: ${MISSING}", want: "key: "},
		{in: "cmd: echo $TOKEN", want: "cmd: echo $TOKEN"},
		{in: "a: ${TOKEN}-${EMPTY}-${TOKEN}", want: "a: abc--abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(expandEnv([]byte(tt.in), lookup)), tt.in)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com/agent.yaml", Resolve("https://example.com/agent.yaml").Name())
	assert.Equal(t, "testdata", Resolve("testdata/agent.yaml").ParentDir())
}

func TestToolAuth(t *testing.T) {
	t.Setenv("WEATHER_KEY", "w-123")
	t.Setenv("CALENDAR_SECRET", "shh")

	cfg, err := Load(t.Context(), NewFileSource("testdata/agent.yaml"))
	require.NoError(t, err)

	got, ok := cfg.ToolAuth("get_forecast")
	require.True(t, ok)
	assert.Equal(t, auth.SchemeAPIKey, got.Scheme.Type)

	_, ok = cfg.ToolAuth("create_alert")
	assert.False(t, ok)

	got, ok = cfg.ToolAuth("calendar_list_events")
	require.True(t, ok)
	assert.Equal(t, auth.SchemeOpenIDConnect, got.Scheme.Type)

	_, ok = cfg.ToolAuth("files_read")
	assert.False(t, ok)

	_, ok = cfg.ToolAuth("unknown")
	assert.False(t, ok)
}
