package root

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/runtime"
	"github.com/docker/agentcall/pkg/tools"
)

func TestParseTurn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		calls   []string
		auth    int
		results int
		wantErr string
	}{
		{
			name:  "array of calls",
			input: `[{"id":"a","name":"one"},null,{"name":"two"}]`,
			calls: []string{"one", "two"},
		},
		{
			name: "content",
			input: `{"role":"user","parts":[
				{"functionCall":{"id":"a","name":"one"}},
				{"functionResponse":{"id":"r","name":"adk_request_credential","response":{}}},
				{"functionResponse":{"id":"b","name":"slow","response":{"ok":true}}},
				{"text":"ignored"}
			]}`,
			calls:   []string{"one"},
			auth:    1,
			results: 1,
		},
		{
			name:    "empty",
			input:   "  \n",
			wantErr: "no function calls in input",
		},
		{
			name:    "content without calls",
			input:   `{"role":"user","parts":[{"text":"hi"}]}`,
			wantErr: "no function calls or responses",
		},
		{
			name:    "invalid",
			input:   `[{"name":}]`,
			wantErr: "decoding function calls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in, err := parseTurn([]byte(tt.input))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			var names []string
			for _, c := range in.calls {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.calls, names)
			assert.Len(t, in.authResponses, tt.auth)
			assert.Len(t, in.results, tt.results)
		})
	}
}

func TestPrintReply(t *testing.T) {
	t.Parallel()

	calls := []*genai.FunctionCall{
		{ID: "c1", Name: "search"},
		{ID: "c2", Name: "calendar_list"},
		{ID: "c3", Name: "export"},
	}
	reply := &runtime.Reply{
		Responses: []*genai.FunctionResponse{
			{ID: "c1", Name: "search", Response: map[string]any{"hits": 3}},
			{ID: "old", Name: "export", Response: map[string]any{"result": "ok"}},
		},
		Actions: tools.Actions{RequestedAuthConfigs: map[string]auth.Config{
			"c2": {
				Scheme: auth.Scheme{Type: auth.SchemeOAuth2},
				ExchangedCredential: &auth.Credential{
					Type:   auth.CredentialOAuth2,
					OAuth2: &auth.OAuth2Auth{AuthURI: "https://idp.example.com/authorize?state=s"},
				},
			},
		}},
	}

	var buf bytes.Buffer
	printReply(&buf, calls, reply)

	assert.Equal(t, `response c1 search {"hits":3}
auth c2 calendar_list oauth2 https://idp.example.com/authorize?state=s
deferred c3 export
response old export {"result":"ok"}
`, buf.String())
}

func TestTokenCredential(t *testing.T) {
	t.Parallel()

	oidc := auth.Config{
		Scheme:        auth.Scheme{Type: auth.SchemeOpenIDConnect},
		RawCredential: &auth.Credential{Type: auth.CredentialOpenIDConnect},
	}
	got := tokenCredential(oidc, "tok")
	assert.Equal(t, auth.CredentialOpenIDConnect, got.Type)
	assert.Equal(t, "tok", got.OAuth2.AccessToken)

	got = tokenCredential(auth.Config{Scheme: auth.Scheme{Type: auth.SchemeOAuth2}}, "tok")
	assert.Equal(t, auth.CredentialOAuth2, got.Type)

	got = tokenCredential(auth.Config{Scheme: auth.Scheme{Type: auth.SchemeAPIKey}}, "key")
	assert.Equal(t, &auth.Credential{Type: auth.CredentialAPIKey, APIKey: "key"}, got)

	got = tokenCredential(auth.Config{Scheme: auth.Scheme{Type: auth.SchemeHTTP, HTTPScheme: "bearer"}}, "tok")
	assert.True(t, got.IsBearer())
}
