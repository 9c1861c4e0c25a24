package exchanger

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/docker/agentcall/pkg/auth"
)

const defaultServiceAccountScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenProvider mints access tokens for a service account.
type TokenProvider interface {
	Token(ctx context.Context, sa *auth.ServiceAccount) (*oauth2.Token, error)
}

// GoogleTokenProvider uses Google service account keys or Application
// Default Credentials.
type GoogleTokenProvider struct{}

func (GoogleTokenProvider) Token(ctx context.Context, sa *auth.ServiceAccount) (*oauth2.Token, error) {
	scopes := sa.Scopes
	if len(scopes) == 0 {
		scopes = []string{defaultServiceAccountScope}
	}

	var (
		creds *google.Credentials
		err   error
	)
	if sa.UseDefaultCredential {
		creds, err = google.FindDefaultCredentials(ctx, scopes...)
	} else {
		creds, err = google.CredentialsFromJSONWithType(ctx, sa.CredentialJSON, google.ServiceAccount, scopes...)
	}
	if err != nil {
		return nil, err
	}
	return creds.TokenSource.Token()
}

// ServiceAccount exchanges a service account description for a bearer token.
type ServiceAccount struct {
	Provider TokenProvider
}

var _ Exchanger = (*ServiceAccount)(nil)

func (s *ServiceAccount) Exchange(ctx context.Context, _ auth.Scheme, cred *auth.Credential) (*auth.Credential, error) {
	if cred == nil || cred.ServiceAccount == nil {
		return nil, auth.ErrMissingServiceAccountCredential
	}
	sa := cred.ServiceAccount
	if len(sa.CredentialJSON) == 0 && !sa.UseDefaultCredential {
		return nil, auth.ErrMissingServiceAccountCredential
	}

	token, err := s.Provider.Token(ctx, sa)
	if err != nil {
		return nil, fmt.Errorf("fetching service account token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, auth.ErrNoAccessToken
	}

	return fromToken(token), nil
}
