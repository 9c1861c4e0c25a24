// Package auth holds the credential model shared by the handshake
// coordinator, the exchangers and the tools that declare a requirement.
//
// JSON field names follow the wire shape of the adk_request_credential
// payload so that configs round-trip with existing deployments.
package auth

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

type SchemeType string

const (
	SchemeAPIKey        SchemeType = "apiKey"
	SchemeHTTP          SchemeType = "http"
	SchemeOAuth2        SchemeType = "oauth2"
	SchemeOpenIDConnect SchemeType = "openIdConnect"
)

// Scheme describes how a remote service expects to be authenticated.
type Scheme struct {
	Type        SchemeType `json:"type"`
	Description string     `json:"description,omitempty"`

	// apiKey
	In   string `json:"in,omitempty"`
	Name string `json:"name,omitempty"`

	// http
	HTTPScheme   string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`

	// oauth2
	Flows *OAuthFlows `json:"flows,omitempty"`

	// openIdConnect
	OpenIDConnectURL      string   `json:"openIdConnectUrl,omitempty"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string   `json:"token_endpoint,omitempty"`
	Scopes                []string `json:"scopes,omitempty"`

	Extras map[string]any `json:"extras,omitempty"`
}

type OAuthFlows struct {
	AuthorizationCode *OAuthFlow `json:"authorizationCode,omitempty"`
	ClientCredentials *OAuthFlow `json:"clientCredentials,omitempty"`
	Implicit          *OAuthFlow `json:"implicit,omitempty"`
	Password          *OAuthFlow `json:"password,omitempty"`
}

type OAuthFlow struct {
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty"`
	RefreshURL       string            `json:"refreshUrl,omitempty"`
	Scopes           map[string]string `json:"scopes,omitempty"`
}

// Interactive reports whether obtaining a credential for this scheme needs
// user consent.
func (s Scheme) Interactive() bool {
	return s.Type == SchemeOAuth2 || s.Type == SchemeOpenIDConnect
}

// Endpoints returns the authorization endpoint, token endpoint and scopes
// of an interactive scheme. For oauth2, the authorization code flow wins
// over client credentials, implicit and password flows.
func (s Scheme) Endpoints() (authURL, tokenURL string, scopes []string) {
	switch s.Type {
	case SchemeOpenIDConnect:
		return s.AuthorizationEndpoint, s.TokenEndpoint, slices.Clone(s.Scopes)
	case SchemeOAuth2:
		if s.Flows == nil {
			return "", "", nil
		}
		for _, flow := range []*OAuthFlow{s.Flows.AuthorizationCode, s.Flows.ClientCredentials, s.Flows.Implicit, s.Flows.Password} {
			if flow == nil {
				continue
			}
			return flow.AuthorizationURL, flow.TokenURL, slices.Sorted(maps.Keys(flow.Scopes))
		}
	}
	return "", "", nil
}

type CredentialType string

const (
	CredentialAPIKey         CredentialType = "apiKey"
	CredentialHTTP           CredentialType = "http"
	CredentialOAuth2         CredentialType = "oauth2"
	CredentialOpenIDConnect  CredentialType = "openIdConnect"
	CredentialServiceAccount CredentialType = "serviceAccount"
)

// Credential is either a raw credential description declared by a tool or
// the exchanged result a tool can present to its service.
type Credential struct {
	Type           CredentialType  `json:"authType"`
	ResourceRef    string          `json:"resourceRef,omitempty"`
	APIKey         string          `json:"apiKey,omitempty"`
	HTTP           *HTTPAuth       `json:"http,omitempty"`
	ServiceAccount *ServiceAccount `json:"serviceAccount,omitempty"`
	OAuth2         *OAuth2Auth     `json:"oauth2,omitempty"`

	Extras map[string]any `json:"extras,omitempty"`
}

type HTTPAuth struct {
	Scheme      string          `json:"scheme"`
	Credentials HTTPCredentials `json:"credentials"`
}

type HTTPCredentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

type ServiceAccount struct {
	CredentialJSON       json.RawMessage `json:"serviceAccountCredential,omitempty"`
	Scopes               []string        `json:"scopes,omitempty"`
	UseDefaultCredential bool            `json:"useDefaultCredential,omitempty"`
}

type OAuth2Auth struct {
	ClientID        string `json:"client_id,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
	AuthURI         string `json:"auth_uri,omitempty"`
	State           string `json:"state,omitempty"`
	RedirectURI     string `json:"redirect_uri,omitempty"`
	AuthResponseURI string `json:"auth_response_uri,omitempty"`
	AuthCode        string `json:"auth_code,omitempty"`
	AccessToken     string `json:"access_token,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	CodeVerifier    string `json:"code_verifier,omitempty"`
}

// IsExpired reports whether the access token is expired or about to be.
// A zero ExpiresAt never expires.
func (o *OAuth2Auth) IsExpired(now time.Time) bool {
	if o.ExpiresAt == 0 {
		return false
	}
	return now.Add(30 * time.Second).After(time.Unix(o.ExpiresAt, 0))
}

// BearerCredential returns the normalized shape every exchanger produces.
func BearerCredential(token string) *Credential {
	return &Credential{
		Type: CredentialHTTP,
		HTTP: &HTTPAuth{
			Scheme:      "bearer",
			Credentials: HTTPCredentials{Token: token},
		},
	}
}

// IsBearer reports whether c carries a ready bearer token.
func (c *Credential) IsBearer() bool {
	return c != nil && c.HTTP != nil && c.HTTP.Scheme == "bearer" && c.HTTP.Credentials.Token != ""
}

// Clone returns a deep copy. Extras values are copied shallowly.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.HTTP != nil {
		h := *c.HTTP
		out.HTTP = &h
	}
	if c.ServiceAccount != nil {
		sa := *c.ServiceAccount
		sa.CredentialJSON = slices.Clone(c.ServiceAccount.CredentialJSON)
		sa.Scopes = slices.Clone(c.ServiceAccount.Scopes)
		out.ServiceAccount = &sa
	}
	if c.OAuth2 != nil {
		o := *c.OAuth2
		out.OAuth2 = &o
	}
	out.Extras = maps.Clone(c.Extras)
	return &out
}

// Config is the credential requirement a tool declares, together with the
// state of its handshake.
type Config struct {
	Scheme              Scheme      `json:"authScheme"`
	RawCredential       *Credential `json:"rawAuthCredential,omitempty"`
	ExchangedCredential *Credential `json:"exchangedAuthCredential,omitempty"`

	// CredentialKey overrides the derived slot key when set.
	CredentialKey string `json:"credentialKey,omitempty"`
}

func (c Config) Clone() Config {
	out := c
	out.Scheme = c.Scheme.clone()
	out.RawCredential = c.RawCredential.Clone()
	out.ExchangedCredential = c.ExchangedCredential.Clone()
	return out
}

func (s Scheme) clone() Scheme {
	out := s
	out.Scopes = slices.Clone(s.Scopes)
	out.Extras = maps.Clone(s.Extras)
	if s.Flows != nil {
		f := *s.Flows
		for _, flow := range []**OAuthFlow{&f.AuthorizationCode, &f.ClientCredentials, &f.Implicit, &f.Password} {
			if *flow != nil {
				cp := **flow
				cp.Scopes = maps.Clone((*flow).Scopes)
				*flow = &cp
			}
		}
		out.Flows = &f
	}
	return out
}
