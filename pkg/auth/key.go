package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Key returns the durable slot key of the config.
//
// It digests canonical forms of the scheme and of the raw credential: the
// Extras bag is dropped and scope lists are sorted, so two logically equal
// configs always share a slot.
func (c Config) Key() string {
	if c.CredentialKey != "" {
		return c.CredentialKey
	}

	var b strings.Builder
	b.WriteString("adk_")
	b.WriteString(string(c.Scheme.Type))
	b.WriteByte('_')
	b.WriteString(digest(canonicalScheme(c.Scheme)))

	if c.RawCredential != nil {
		b.WriteByte('_')
		b.WriteString(string(c.RawCredential.Type))
		b.WriteByte('_')
		b.WriteString(digest(canonicalCredential(c.RawCredential)))
	}

	return b.String()
}

func canonicalScheme(s Scheme) Scheme {
	out := s.clone()
	out.Extras = nil
	slices.Sort(out.Scopes)
	return out
}

func canonicalCredential(c *Credential) *Credential {
	out := c.Clone()
	out.Extras = nil
	if out.ServiceAccount != nil {
		slices.Sort(out.ServiceAccount.Scopes)
	}
	return out
}

// digest hashes the JSON form of v. Map keys are emitted sorted by
// encoding/json.
func digest(v any) string {
	buf, err := json.Marshal(v)
	if err != nil {
		buf = fmt.Appendf(nil, "%#v", v)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
