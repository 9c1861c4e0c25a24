// Package httpclient builds the HTTP clients remote tools talk through.
package httpclient

import (
	"cmp"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/version"
)

var ErrUnsupportedCredential = errors.New("credential cannot be applied to an HTTP request")

// CredentialSource returns the credential to present on the next request.
// A nil credential sends the request as is.
type CredentialSource func() (auth.Scheme, *auth.Credential)

type options struct {
	headers    map[string]string
	credential CredentialSource
	timeout    time.Duration
	base       http.RoundTripper
}

type Opt func(*options)

func WithHeaders(headers map[string]string) Opt {
	return func(o *options) {
		o.headers = headers
	}
}

func WithCredentials(src CredentialSource) Opt {
	return func(o *options) {
		o.credential = src
	}
}

func WithTimeout(d time.Duration) Opt {
	return func(o *options) {
		o.timeout = d
	}
}

// WithTransport replaces http.DefaultTransport, mostly for tests.
func WithTransport(rt http.RoundTripper) Opt {
	return func(o *options) {
		o.base = rt
	}
}

type transport struct {
	agent      string
	headers    map[string]string
	credential CredentialSource
	rt         http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", t.agent)
	for k, v := range t.headers {
		r2.Header.Set(k, v)
	}
	if t.credential != nil {
		scheme, cred := t.credential()
		if err := Apply(r2, scheme, cred); err != nil {
			return nil, err
		}
	}
	return t.rt.RoundTrip(r2)
}

func NewHTTPClient(opts ...Opt) *http.Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &transport{
			agent:      version.UserAgent(runtime.GOOS, runtime.GOARCH),
			headers:    o.headers,
			credential: o.credential,
			rt:         cmp.Or[http.RoundTripper](o.base, http.DefaultTransport),
		},
	}
}

// Apply presents cred on req the way scheme expects it. A nil cred is a
// no-op.
func Apply(req *http.Request, scheme auth.Scheme, cred *auth.Credential) error {
	switch {
	case cred == nil:
		return nil
	case cred.IsBearer():
		req.Header.Set("Authorization", "Bearer "+cred.HTTP.Credentials.Token)
	case cred.HTTP != nil && strings.EqualFold(cred.HTTP.Scheme, "basic"):
		req.SetBasicAuth(cred.HTTP.Credentials.Username, cred.HTTP.Credentials.Password)
	case cred.HTTP != nil && cred.HTTP.Credentials.Token != "":
		req.Header.Set("Authorization", cred.HTTP.Scheme+" "+cred.HTTP.Credentials.Token)
	case cred.APIKey != "":
		name := cmp.Or(scheme.Name, "X-API-Key")
		switch scheme.In {
		case "query":
			q := req.URL.Query()
			q.Set(name, cred.APIKey)
			req.URL.RawQuery = q.Encode()
		case "cookie":
			req.AddCookie(&http.Cookie{Name: name, Value: cred.APIKey})
		default:
			req.Header.Set(name, cred.APIKey)
		}
	case cred.OAuth2 != nil && cred.OAuth2.AccessToken != "":
		req.Header.Set("Authorization", "Bearer "+cred.OAuth2.AccessToken)
	default:
		return ErrUnsupportedCredential
	}
	return nil
}
