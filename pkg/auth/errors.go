package auth

import "errors"

var (
	// ErrMissingClientCredentials is returned when an interactive scheme is
	// requested without a client id and secret.
	ErrMissingClientCredentials = errors.New("client id and client secret are required for oauth2 and openIdConnect schemes")
	ErrMissingOAuth2Details     = errors.New("oauth2 credential details are missing")
	ErrNoAccessToken            = errors.New("no access token or authorization response available")
	// ErrMissingServiceAccountCredential is returned when a service account
	// credential has neither a key nor the default-credential flag.
	ErrMissingServiceAccountCredential = errors.New("service account credential requires a key or useDefaultCredential")
	// ErrNoCredentialAvailable means the handshake has not completed yet. The
	// caller should request the credential and retry on a later turn.
	ErrNoCredentialAvailable = errors.New("no credential available")
)
