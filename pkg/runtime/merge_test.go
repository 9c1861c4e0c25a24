package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/tools"
)

func TestMerge(t *testing.T) {
	t.Parallel()

	cfgA := apiKeyConfig("a")
	cfgB := oidcConfig()

	calls := []*genai.FunctionCall{
		call("c1", "one", nil),
		call("c2", "auth_a", nil),
		call("c3", "deferred", nil),
		call("c4", "two", nil),
		call("c5", "auth_b", nil),
	}
	outcomes := []Outcome{
		{Kind: Completed, Value: map[string]any{"v": 1}, Actions: tools.Actions{StateDelta: map[string]any{"k": "v"}}},
		{Kind: CredentialRequired, AuthConfig: &cfgA},
		{Kind: Deferred},
		{Kind: Completed, Value: map[string]any{"v": 2}, Actions: tools.Actions{SkipSummarization: true}},
		{Kind: CredentialRequired, AuthConfig: &cfgB},
	}

	reply := Merge(calls, outcomes)
	require.NotNil(t, reply)

	assert.Equal(t, []string{"c1", "c4"}, responseIDs(reply))
	assert.Equal(t, map[string]any{"k": "v"}, reply.Actions.StateDelta)
	assert.True(t, reply.Actions.SkipSummarization)

	require.NotNil(t, reply.AuthRequest)
	require.Len(t, reply.AuthRequest.Parts, 2)
	var origins []string
	for i, part := range reply.AuthRequest.Parts {
		fc := part.FunctionCall
		require.NotNil(t, fc)
		assert.Equal(t, RequestCredentialName, fc.Name)
		assert.Equal(t, reply.LongRunningIDs[i], fc.ID)
		origins = append(origins, fc.Args["function_call_id"].(string))
	}
	assert.Equal(t, []string{"c2", "c5"}, origins)
	assert.NotEqual(t, reply.LongRunningIDs[0], reply.LongRunningIDs[1])

	var decoded auth.Config
	require.NoError(t, tools.JSONRoundtrip(reply.AuthRequest.Parts[0].FunctionCall.Args["auth_config"], &decoded))
	assert.Equal(t, cfgA, decoded)

	contents := reply.Contents()
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "c1", contents[0].Parts[0].FunctionResponse.ID)
	assert.Same(t, reply.AuthRequest, contents[1])
}

func TestMergeKeepsEntriesAroundNilCall(t *testing.T) {
	t.Parallel()

	calls := []*genai.FunctionCall{call("a", "one", nil), nil, call("b", "two", nil)}
	outcomes := []Outcome{
		{Kind: Completed, Value: map[string]any{"v": 1}},
		failed(UnknownCapability, "", nil),
		{Kind: Completed, Value: map[string]any{"v": 2}},
	}

	reply := Merge(calls, outcomes)
	require.NotNil(t, reply)
	assert.Equal(t, []string{"a", "", "b"}, responseIDs(reply))
	assert.Equal(t, map[string]any{"error": "UnknownCapability"}, reply.Responses[1].Response)
	assert.Equal(t, map[string]any{"v": 2}, reply.Responses[2].Response)

	// Extra outcomes have no call to answer.
	reply = Merge(calls[:1], outcomes)
	require.NotNil(t, reply)
	assert.Equal(t, []string{"a"}, responseIDs(reply))
}

func TestDispatchNilCallKeepsSiblings(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, []tools.Tool{echoTool()})

	reply := d.Dispatch(t.Context(), []*genai.FunctionCall{
		call("a", "echo", map[string]any{"n": 1}),
		nil,
		call("b", "echo", map[string]any{"n": 2}),
	})
	require.NotNil(t, reply)
	require.Len(t, reply.Responses, 3)
	assert.Equal(t, "a", reply.Responses[0].ID)
	assert.Equal(t, map[string]any{"error": "UnknownCapability"}, reply.Responses[1].Response)
	assert.Equal(t, "b", reply.Responses[2].ID)
	assert.Equal(t, map[string]any{"n": 2}, reply.Responses[2].Response)
}

func TestMergeNoEntries(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Merge(nil, nil))
	assert.Nil(t, Merge([]*genai.FunctionCall{call("c1", "job", nil)}, []Outcome{{Kind: Deferred}}))

	var reply *Reply
	assert.Nil(t, reply.Contents())
}

func TestAuthConfigWireShape(t *testing.T) {
	t.Parallel()

	cfg := oidcConfig()
	reply := Merge([]*genai.FunctionCall{call("c1", "search", nil)}, []Outcome{{Kind: CredentialRequired, AuthConfig: &cfg}})
	require.NotNil(t, reply)

	args := reply.AuthRequest.Parts[0].FunctionCall.Args
	assert.ElementsMatch(t, []string{"function_call_id", "auth_config"}, keys(args))

	wire, ok := args["auth_config"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, wire, "authScheme")
	assert.Contains(t, wire, "rawAuthCredential")
	raw := wire["rawAuthCredential"].(map[string]any)
	assert.Equal(t, "openIdConnect", raw["authType"])
	assert.Equal(t, "a", raw["oauth2"].(map[string]any)["client_id"])
}

func keys(m map[string]any) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestToolErrorPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ToolError
		want map[string]any
	}{
		{
			name: "unknown capability",
			err:  &ToolError{Kind: UnknownCapability, Tool: "missing_cap"},
			want: map[string]any{"error": "UnknownCapability"},
		},
		{
			name: "executor failure",
			err:  &ToolError{Kind: ExecutorFailure, Tool: "fetch", Err: errors.New("timeout")},
			want: map[string]any{"error": "ExecutorFailure", "message": "timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Payload())
		})
	}

	inner := errors.New("boom")
	err := &ToolError{Kind: HookFailure, Tool: "x", Err: inner}
	require.ErrorIs(t, err, inner)
	assert.Equal(t, "HookFailure: x: boom", err.Error())
}

func TestOutcomeKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "deferred", Deferred.String())
	assert.Equal(t, "credential_required", CredentialRequired.String())
	assert.Equal(t, "OutcomeKind(9)", OutcomeKind(9).String())
}
