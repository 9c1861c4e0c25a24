package runtime

import (
	"log/slog"

	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/tools"
)

// RequestCredentialName is the name of the synthetic call that asks the
// client to complete a credential handshake.
const RequestCredentialName = "adk_request_credential"

// Reply is everything one turn hands back to the model.
type Reply struct {
	// Responses are the completed calls, in the order they were declared.
	Responses []*genai.FunctionResponse
	// AuthRequest holds one synthetic call per pending credential request.
	// It is nil when no call needs a credential.
	AuthRequest *genai.Content
	// Actions merges the side effects of every call of the turn.
	Actions tools.Actions
	// LongRunningIDs are the ids of the synthetic calls. The client answers
	// them later, once the user finished the handshake.
	LongRunningIDs []string
}

// Contents renders the reply as conversation content: the responses first,
// then the credential request.
func (r *Reply) Contents() []*genai.Content {
	if r == nil {
		return nil
	}

	var contents []*genai.Content
	if len(r.Responses) > 0 {
		parts := make([]*genai.Part, 0, len(r.Responses))
		for _, resp := range r.Responses {
			parts = append(parts, &genai.Part{FunctionResponse: resp})
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
	if r.AuthRequest != nil {
		contents = append(contents, r.AuthRequest)
	}
	return contents
}

// Merge folds the outcomes of a turn into one reply. outcomes[i] belongs to
// calls[i]; outcomes without a matching call are ignored. A nil call still
// contributes its entry, with an empty id. Deferred calls are left out. It
// returns nil when no entry is left.
func Merge(calls []*genai.FunctionCall, outcomes []Outcome) *Reply {
	reply := &Reply{}
	var parts []*genai.Part

	for i, o := range outcomes[:min(len(outcomes), len(calls))] {
		call := calls[i]
		if call == nil {
			call = &genai.FunctionCall{}
		}
		reply.Actions.Merge(o.Actions)

		switch o.Kind {
		case Completed:
			reply.Responses = append(reply.Responses, &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: o.Value,
			})
		case CredentialRequired:
			if o.AuthConfig == nil {
				continue
			}
			part, err := authRequestPart(call.ID, *o.AuthConfig)
			if err != nil {
				slog.Warn("Failed to encode auth request", "call_id", call.ID, "error", err)
				continue
			}
			parts = append(parts, part)
			reply.LongRunningIDs = append(reply.LongRunningIDs, part.FunctionCall.ID)
		}
	}

	if len(parts) > 0 {
		reply.AuthRequest = genai.NewContentFromParts(parts, genai.RoleUser)
	}
	if len(reply.Responses) == 0 && reply.AuthRequest == nil {
		return nil
	}
	return reply
}

func authRequestPart(callID string, cfg auth.Config) (*genai.Part, error) {
	var encoded map[string]any
	if err := tools.JSONRoundtrip(cfg, &encoded); err != nil {
		return nil, err
	}
	return &genai.Part{
		FunctionCall: &genai.FunctionCall{
			ID:   newCallID(),
			Name: RequestCredentialName,
			Args: map[string]any{
				"function_call_id": callID,
				"auth_config":      encoded,
			},
		},
	}, nil
}
