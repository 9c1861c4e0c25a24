package exchanger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/docker/agentcall/pkg/auth"
)

var ErrStateMismatch = errors.New("authorization response state does not match the request")

// OAuth2 exchanges OAuth2 and OpenID Connect credentials. An access token
// already present is normalized to a bearer credential; otherwise the
// authorization code is redeemed at the scheme's token endpoint.
type OAuth2 struct {
	HTTPClient *http.Client
}

var (
	_ Exchanger = (*OAuth2)(nil)
	_ Refresher = (*OAuth2)(nil)
)

func (o *OAuth2) Exchange(ctx context.Context, scheme auth.Scheme, cred *auth.Credential) (*auth.Credential, error) {
	if err := validateOAuth2(scheme, cred); err != nil {
		return nil, err
	}

	details := cred.OAuth2
	if details.AccessToken != "" {
		return bearer(details.AccessToken, details.RefreshToken, details.ExpiresAt), nil
	}
	if details.AuthCode == "" && details.AuthResponseURI == "" {
		return nil, auth.ErrNoAccessToken
	}

	code, err := authorizationCode(details)
	if err != nil {
		return nil, err
	}

	cfg, err := oauthConfig(scheme, details)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if details.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(details.CodeVerifier))
	}

	slog.Debug("Exchanging authorization code", "token_url", cfg.Endpoint.TokenURL)
	token, err := cfg.Exchange(o.context(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	return fromToken(token), nil
}

func (o *OAuth2) Refresh(ctx context.Context, scheme auth.Scheme, raw, current *auth.Credential) (*auth.Credential, error) {
	if err := validateOAuth2(scheme, raw); err != nil {
		return nil, err
	}
	if current == nil || current.OAuth2 == nil || current.OAuth2.RefreshToken == "" {
		return nil, ErrNotRefreshable
	}

	cfg, err := oauthConfig(scheme, raw.OAuth2)
	if err != nil {
		return nil, err
	}

	expired := &oauth2.Token{
		RefreshToken: current.OAuth2.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	token, err := cfg.TokenSource(o.context(ctx), expired).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = current.OAuth2.RefreshToken
	}

	return fromToken(token), nil
}

func (o *OAuth2) context(ctx context.Context) context.Context {
	if o.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
}

func validateOAuth2(scheme auth.Scheme, cred *auth.Credential) error {
	if cred == nil || cred.OAuth2 == nil {
		return auth.ErrMissingOAuth2Details
	}
	if cred.Type != auth.CredentialOAuth2 && cred.Type != auth.CredentialOpenIDConnect {
		return fmt.Errorf("%w: credential type %q", auth.ErrMissingOAuth2Details, cred.Type)
	}
	if !scheme.Interactive() {
		return fmt.Errorf("%w: scheme type %q", auth.ErrMissingOAuth2Details, scheme.Type)
	}
	return nil
}

func oauthConfig(scheme auth.Scheme, details *auth.OAuth2Auth) (*oauth2.Config, error) {
	authURL, tokenURL, scopes := scheme.Endpoints()
	if tokenURL == "" {
		return nil, fmt.Errorf("%w: scheme has no token endpoint", auth.ErrMissingOAuth2Details)
	}
	return &oauth2.Config{
		ClientID:     details.ClientID,
		ClientSecret: details.ClientSecret,
		RedirectURL:  details.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}, nil
}

// authorizationCode returns the code to redeem, reading it from the
// redirect URI when the caller only forwarded that.
func authorizationCode(details *auth.OAuth2Auth) (string, error) {
	if details.AuthCode != "" {
		return details.AuthCode, nil
	}

	u, err := url.Parse(details.AuthResponseURI)
	if err != nil {
		return "", fmt.Errorf("parsing authorization response: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization failed: %s %s", e, q.Get("error_description"))
	}
	if details.State != "" && q.Get("state") != details.State {
		return "", ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", auth.ErrNoAccessToken
	}
	return code, nil
}

func fromToken(token *oauth2.Token) *auth.Credential {
	var expiresAt int64
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry.Unix()
	}
	return bearer(token.AccessToken, token.RefreshToken, expiresAt)
}

// bearer builds the normalized credential. Refresh bookkeeping rides along
// in the oauth2 block.
func bearer(accessToken, refreshToken string, expiresAt int64) *auth.Credential {
	if expiresAt == 0 {
		expiresAt = jwtExpiry(accessToken)
	}

	cred := auth.BearerCredential(accessToken)
	if refreshToken != "" || expiresAt != 0 {
		cred.OAuth2 = &auth.OAuth2Auth{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
		}
	}
	return cred
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens yield zero.
func jwtExpiry(token string) int64 {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}
