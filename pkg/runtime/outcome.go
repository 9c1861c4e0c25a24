package runtime

import (
	"fmt"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/tools"
)

// OutcomeKind tags how a call ended for the turn.
type OutcomeKind int

const (
	// Completed calls produce a response entry. Failures are Completed too,
	// with an error payload.
	Completed OutcomeKind = iota
	// Deferred calls belong to long-running tools that will answer later.
	Deferred
	// CredentialRequired calls wait for the user to finish a handshake.
	CredentialRequired
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Deferred:
		return "deferred"
	case CredentialRequired:
		return "credential_required"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the terminal state of one call.
type Outcome struct {
	Kind OutcomeKind
	// Value is the response payload of a Completed call.
	Value map[string]any
	// AuthConfig is the auth request of a CredentialRequired call.
	AuthConfig *auth.Config
	// Actions are the side effects recorded while the call ran.
	Actions tools.Actions
	// Err is the failure behind an error payload, if any.
	Err error
}

// ErrorKind names a per-call failure reported to the model.
type ErrorKind string

const (
	UnknownCapability ErrorKind = "UnknownCapability"
	HookFailure       ErrorKind = "HookFailure"
	ExecutorFailure   ErrorKind = "ExecutorFailure"
)

// ToolError is a failure caught at the boundary of one call.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Tool)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Payload is the response body reported for the failed call.
func (e *ToolError) Payload() map[string]any {
	p := map[string]any{"error": string(e.Kind)}
	if e.Err != nil {
		p["message"] = e.Err.Error()
	}
	return p
}

func failed(kind ErrorKind, tool string, err error) Outcome {
	te := &ToolError{Kind: kind, Tool: tool, Err: err}
	return Outcome{
		Kind:  Completed,
		Value: te.Payload(),
		Err:   te,
	}
}
