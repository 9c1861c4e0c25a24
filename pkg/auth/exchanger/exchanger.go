// Package exchanger turns raw credential descriptions into credentials a
// tool can present to its service.
package exchanger

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/docker/agentcall/pkg/auth"
)

var ErrNotRefreshable = errors.New("credential cannot be refreshed")

// Exchanger converts a raw credential. Implementations validate before doing
// any work and never mutate cred.
type Exchanger interface {
	Exchange(ctx context.Context, scheme auth.Scheme, cred *auth.Credential) (*auth.Credential, error)
}

// Refresher is implemented by exchangers whose results expire.
type Refresher interface {
	Refresh(ctx context.Context, scheme auth.Scheme, raw, current *auth.Credential) (*auth.Credential, error)
}

// Registry maps credential kinds to exchangers. Unknown kinds pass through.
type Registry struct {
	mu       sync.RWMutex
	byKind   map[auth.CredentialType]Exchanger
	fallback Exchanger
}

type Opt func(*options)

type options struct {
	httpClient    *http.Client
	tokenProvider TokenProvider
}

// WithHTTPClient sets the client used to reach token endpoints.
func WithHTTPClient(c *http.Client) Opt {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTokenProvider replaces the identity provider of service accounts.
func WithTokenProvider(tp TokenProvider) Opt {
	return func(o *options) {
		o.tokenProvider = tp
	}
}

// NewRegistry returns a registry with the built-in strategies.
func NewRegistry(opts ...Opt) *Registry {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.tokenProvider == nil {
		o.tokenProvider = GoogleTokenProvider{}
	}

	oauth := &OAuth2{HTTPClient: o.httpClient}
	r := &Registry{
		byKind:   make(map[auth.CredentialType]Exchanger),
		fallback: PassThrough{},
	}
	r.Register(auth.CredentialAPIKey, PassThrough{})
	r.Register(auth.CredentialHTTP, PassThrough{})
	r.Register(auth.CredentialOAuth2, oauth)
	r.Register(auth.CredentialOpenIDConnect, oauth)
	r.Register(auth.CredentialServiceAccount, &ServiceAccount{Provider: o.tokenProvider})
	return r
}

// Register installs ex for kind, replacing any previous strategy.
func (r *Registry) Register(kind auth.CredentialType, ex Exchanger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKind[kind] = ex
}

// Lookup returns the exchanger for kind, or the pass-through fallback.
func (r *Registry) Lookup(kind auth.CredentialType) Exchanger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ex, ok := r.byKind[kind]; ok {
		return ex
	}
	return r.fallback
}

func (r *Registry) Exchange(ctx context.Context, scheme auth.Scheme, cred *auth.Credential) (*auth.Credential, error) {
	if cred == nil {
		return nil, auth.ErrNoCredentialAvailable
	}
	return r.Lookup(cred.Type).Exchange(ctx, scheme, cred)
}

// Refresh renews current using the strategy registered for raw's kind.
func (r *Registry) Refresh(ctx context.Context, scheme auth.Scheme, raw, current *auth.Credential) (*auth.Credential, error) {
	if raw == nil {
		return nil, ErrNotRefreshable
	}
	refresher, ok := r.Lookup(raw.Type).(Refresher)
	if !ok {
		return nil, ErrNotRefreshable
	}
	return refresher.Refresh(ctx, scheme, raw, current)
}

// PassThrough returns credentials that are already usable, such as API keys
// and HTTP bearer or basic credentials.
type PassThrough struct{}

func (PassThrough) Exchange(_ context.Context, _ auth.Scheme, cred *auth.Credential) (*auth.Credential, error) {
	return cred.Clone(), nil
}
