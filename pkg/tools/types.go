package tools

import (
	"context"
	"maps"
	"sync"

	"github.com/docker/agentcall/pkg/auth"
)

// Actions are the side effects a call asks for alongside its result.
type Actions struct {
	SkipSummarization bool           `json:"skipSummarization,omitempty"`
	TransferToAgent   string         `json:"transferToAgent,omitempty"`
	Escalate          bool           `json:"escalate,omitempty"`
	StateDelta        map[string]any `json:"stateDelta,omitempty"`
	// RequestedAuthConfigs maps the id of each call that needs a credential
	// to the auth request the user must answer.
	RequestedAuthConfigs map[string]auth.Config `json:"requestedAuthConfigs,omitempty"`
}

func (a *Actions) IsEmpty() bool {
	return !a.SkipSummarization && a.TransferToAgent == "" && !a.Escalate &&
		len(a.StateDelta) == 0 && len(a.RequestedAuthConfigs) == 0
}

// Merge folds other into a. Later values win.
func (a *Actions) Merge(other Actions) {
	a.SkipSummarization = a.SkipSummarization || other.SkipSummarization
	a.Escalate = a.Escalate || other.Escalate
	if other.TransferToAgent != "" {
		a.TransferToAgent = other.TransferToAgent
	}
	if len(other.StateDelta) > 0 {
		if a.StateDelta == nil {
			a.StateDelta = make(map[string]any, len(other.StateDelta))
		}
		maps.Copy(a.StateDelta, other.StateDelta)
	}
	if len(other.RequestedAuthConfigs) > 0 {
		if a.RequestedAuthConfigs == nil {
			a.RequestedAuthConfigs = make(map[string]auth.Config, len(other.RequestedAuthConfigs))
		}
		maps.Copy(a.RequestedAuthConfigs, other.RequestedAuthConfigs)
	}
}

// CredentialResolver looks up credentials that completed a handshake.
type CredentialResolver interface {
	Credential(ctx context.Context, cfg auth.Config) (*auth.Credential, error)
}

// Context is threaded explicitly through hooks and the executor of a single
// call. It is never shared between calls.
type Context struct {
	FunctionCallID string
	ToolName       string

	mu         sync.Mutex
	actions    Actions
	credential *auth.Credential
	resolver   CredentialResolver
}

func NewContext(callID, toolName string, resolver CredentialResolver) *Context {
	return &Context{
		FunctionCallID: callID,
		ToolName:       toolName,
		resolver:       resolver,
	}
}

// Credential returns the credential resolved for the tool's declared
// requirement, if any.
func (c *Context) Credential() *auth.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

func (c *Context) SetCredential(cred *auth.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = cred
}

// ResolveCredential looks up a credential an executor needs mid-execution.
// It returns auth.ErrNoCredentialAvailable until the handshake completed.
func (c *Context) ResolveCredential(ctx context.Context, cfg auth.Config) (*auth.Credential, error) {
	if c.resolver == nil {
		return nil, auth.ErrNoCredentialAvailable
	}
	return c.resolver.Credential(ctx, cfg)
}

// RequestCredential records that this call cannot finish without cfg. The
// call then ends as a credential request instead of a result.
func (c *Context) RequestCredential(cfg auth.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.actions.RequestedAuthConfigs == nil {
		c.actions.RequestedAuthConfigs = make(map[string]auth.Config)
	}
	c.actions.RequestedAuthConfigs[c.FunctionCallID] = cfg.Clone()
}

// RequestedCredential returns the config passed to RequestCredential.
func (c *Context) RequestedCredential() (auth.Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.actions.RequestedAuthConfigs[c.FunctionCallID]
	return cfg, ok
}

// UpdateActions lets hooks and executors record side effects.
func (c *Context) UpdateActions(f func(*Actions)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.actions)
}

// Actions returns a copy of the side effects recorded so far.
func (c *Context) Actions() Actions {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.actions
	out.StateDelta = maps.Clone(c.actions.StateDelta)
	out.RequestedAuthConfigs = maps.Clone(c.actions.RequestedAuthConfigs)
	return out
}
