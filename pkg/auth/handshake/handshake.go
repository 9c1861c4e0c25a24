// Package handshake coordinates the cross-turn credential handshake: it
// builds the consent request for a tool's credential requirement, stores
// the exchanged credential once the user answers (or right away when no
// consent is needed), and serves it back to tools on later turns.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/auth/exchanger"
	"github.com/docker/agentcall/pkg/concurrent"
	"github.com/docker/agentcall/pkg/state"
)

type Handler struct {
	store      state.Store
	exchangers *exchanger.Registry
	locks      *concurrent.KeyedMutex[string]
	now        func() time.Time
}

type Opt func(*Handler)

func WithExchangers(r *exchanger.Registry) Opt {
	return func(h *Handler) {
		h.exchangers = r
	}
}

func WithClock(now func() time.Time) Opt {
	return func(h *Handler) {
		h.now = now
	}
}

func New(store state.Store, opts ...Opt) *Handler {
	h := &Handler{
		store: store,
		locks: concurrent.NewKeyedMutex[string](),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.exchangers == nil {
		h.exchangers = exchanger.NewRegistry()
	}
	return h
}

// Credential returns the exchanged credential stored for cfg. Raw
// credentials that need no user consent (service accounts, API keys, HTTP
// credentials, ready access tokens) are exchanged and stored on first use.
// Anything else fails with auth.ErrNoCredentialAvailable until a handshake
// for cfg has completed. Expired OAuth2 credentials are refreshed when they
// carry a refresh token.
func (h *Handler) Credential(ctx context.Context, cfg auth.Config) (*auth.Credential, error) {
	key := cfg.Key()

	stored, err := h.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if usable(stored, h.now()) {
		return stored, nil
	}

	if stored != nil && stored.OAuth2.RefreshToken != "" {
		return h.refresh(ctx, cfg, stored)
	}
	if unattended(cfg.Scheme, cfg.RawCredential) {
		return h.exchange(ctx, cfg)
	}

	if stored != nil {
		slog.Debug("Stored credential expired", "key", key)
	}
	return nil, auth.ErrNoCredentialAvailable
}

func (h *Handler) load(ctx context.Context, key string) (*auth.Credential, error) {
	stored, err := state.GetJSON[*auth.Credential](ctx, h.store, key)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential %s: %w", key, err)
	}
	return stored, nil
}

func (h *Handler) refresh(ctx context.Context, cfg auth.Config, stored *auth.Credential) (*auth.Credential, error) {
	key := cfg.Key()

	unlock := h.locks.Lock(key)
	defer unlock()

	refreshed, err := h.exchangers.Refresh(ctx, cfg.Scheme, cfg.RawCredential, stored)
	if err != nil {
		slog.Warn("Failed to refresh credential", "key", key, "error", err)
		return nil, fmt.Errorf("%w: %w", auth.ErrNoCredentialAvailable, err)
	}
	if err := state.SetJSON(ctx, h.store, key, refreshed); err != nil {
		return nil, err
	}

	slog.Debug("Refreshed credential", "key", key)
	return refreshed, nil
}

// exchange turns the raw credential into a usable one without a consent
// round trip. Failures are configuration errors, not missing credentials.
func (h *Handler) exchange(ctx context.Context, cfg auth.Config) (*auth.Credential, error) {
	key := cfg.Key()

	unlock := h.locks.Lock(key)
	defer unlock()

	// Another call for the same slot may have finished while we waited.
	stored, err := h.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if usable(stored, h.now()) {
		return stored, nil
	}

	cred, err := h.exchangers.Exchange(ctx, cfg.Scheme, cfg.RawCredential)
	if err != nil {
		return nil, fmt.Errorf("exchanging credential %s: %w", key, err)
	}
	if err := state.SetJSON(ctx, h.store, key, cred); err != nil {
		return nil, fmt.Errorf("storing credential %s: %w", key, err)
	}

	slog.Debug("Exchanged credential without consent", "key", key, "type", cfg.RawCredential.Type)
	return cred, nil
}

func usable(c *auth.Credential, now time.Time) bool {
	return c != nil && (c.OAuth2 == nil || !c.OAuth2.IsExpired(now))
}

// unattended reports whether raw can be turned into a usable credential for
// scheme without asking the user.
func unattended(scheme auth.Scheme, raw *auth.Credential) bool {
	switch {
	case raw == nil:
		return false
	case raw.Type == auth.CredentialServiceAccount:
		return true
	case raw.OAuth2 != nil && raw.OAuth2.AccessToken != "":
		return true
	case scheme.Interactive():
		return false
	case raw.APIKey != "":
		return true
	case raw.HTTP != nil:
		c := raw.HTTP.Credentials
		return c.Token != "" || (c.Username != "" && c.Password != "")
	}
	return false
}

// GenerateAuthRequest returns the config to hand to the user so they can
// complete the handshake for cfg. cfg itself is left untouched.
func (h *Handler) GenerateAuthRequest(cfg auth.Config) (auth.Config, error) {
	out := cfg.Clone()
	raw := cfg.RawCredential

	if hasAuthURI(cfg.ExchangedCredential) {
		return out, nil
	}
	if hasAuthURI(raw) {
		out.ExchangedCredential = raw.Clone()
		return out, nil
	}

	if !cfg.Scheme.Interactive() || unattended(cfg.Scheme, raw) {
		out.ExchangedCredential = raw.Clone()
		return out, nil
	}

	if raw == nil || raw.OAuth2 == nil || raw.OAuth2.ClientID == "" || raw.OAuth2.ClientSecret == "" {
		return auth.Config{}, auth.ErrMissingClientCredentials
	}

	authURL, tokenURL, scopes := cfg.Scheme.Endpoints()
	if authURL == "" {
		return auth.Config{}, fmt.Errorf("%w: scheme has no authorization endpoint", auth.ErrMissingOAuth2Details)
	}

	st, err := GenerateState()
	if err != nil {
		return auth.Config{}, fmt.Errorf("generating state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	oc := oauth2.Config{
		ClientID:     raw.OAuth2.ClientID,
		ClientSecret: raw.OAuth2.ClientSecret,
		RedirectURL:  raw.OAuth2.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}

	exchanged := raw.Clone()
	exchanged.OAuth2.State = st
	exchanged.OAuth2.CodeVerifier = verifier
	exchanged.OAuth2.AuthURI = oc.AuthCodeURL(st,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)
	out.ExchangedCredential = exchanged

	return out, nil
}

// ParseAndStoreAuthResponse stores the credential the user sent back in
// response to an auth request. Interactive schemes and service accounts are
// exchanged first, so what lands in state is always directly usable.
func (h *Handler) ParseAndStoreAuthResponse(ctx context.Context, cfg auth.Config) error {
	key := cfg.Key()

	unlock := h.locks.Lock(key)
	defer unlock()

	cred := cfg.ExchangedCredential
	if cred == nil {
		cred = cfg.RawCredential
	}
	if cred == nil {
		return fmt.Errorf("%w: auth response carries no credential", auth.ErrNoAccessToken)
	}

	if cfg.Scheme.Interactive() || cred.Type == auth.CredentialServiceAccount {
		exchanged, err := h.exchangers.Exchange(ctx, cfg.Scheme, withClient(cred, cfg.RawCredential))
		if err != nil {
			return fmt.Errorf("exchanging credential %s: %w", key, err)
		}
		cred = exchanged
	}

	if err := state.SetJSON(ctx, h.store, key, cred); err != nil {
		return fmt.Errorf("storing credential %s: %w", key, err)
	}

	slog.Debug("Stored credential", "key", key, "type", cred.Type)
	return nil
}

// GenerateState returns a random anti-forgery token for the authorization URL.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hasAuthURI(c *auth.Credential) bool {
	return c != nil && c.OAuth2 != nil && c.OAuth2.AuthURI != ""
}

// withClient fills in client identity the response may have dropped.
func withClient(cred, raw *auth.Credential) *auth.Credential {
	if raw == nil || raw.OAuth2 == nil || cred.OAuth2 == nil {
		return cred
	}
	if cred.OAuth2.ClientID != "" && cred.OAuth2.ClientSecret != "" {
		return cred
	}
	out := cred.Clone()
	if out.OAuth2.ClientID == "" {
		out.OAuth2.ClientID = raw.OAuth2.ClientID
	}
	if out.OAuth2.ClientSecret == "" {
		out.OAuth2.ClientSecret = raw.OAuth2.ClientSecret
	}
	if out.OAuth2.RedirectURI == "" {
		out.OAuth2.RedirectURI = raw.OAuth2.RedirectURI
	}
	return out
}
