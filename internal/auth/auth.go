// Package auth carries an opaque caller credential from the transport to the
// backends that need one. The gateway never validates credentials; it only
// forwards them.
package auth

import (
	"context"
	"strings"
)

// Credential is an opaque authorization value, typically a bearer token.
type Credential struct {
	// Scheme is the authorization scheme, e.g. "Bearer".
	Scheme string

	// Token is the credential itself.
	Token string
}

// IsZero reports whether no credential is present.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// Header renders the credential as an Authorization header value.
func (c Credential) Header() string {
	if c.IsZero() {
		return ""
	}
	if c.Scheme == "" {
		return "Bearer " + c.Token
	}
	return c.Scheme + " " + c.Token
}

// String hides the token so credentials never reach logs.
func (c Credential) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return c.Scheme + " <redacted>"
}

// ParseAuthorization parses an Authorization header value.
// A value without a scheme is treated as a bearer token.
func ParseAuthorization(header string) (Credential, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credential{}, false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found {
		return Credential{Scheme: "Bearer", Token: header}, true
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, false
	}
	if strings.EqualFold(scheme, "bearer") {
		scheme = "Bearer"
	}
	return Credential{Scheme: scheme, Token: token}, true
}

// ServiceCredential wraps a configured service token.
func ServiceCredential(token string) Credential {
	if token == "" {
		return Credential{}
	}
	return Credential{Scheme: "Bearer", Token: token}
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const credentialContextKey contextKey = "meshgate_credential"

// ContextWithCredential returns a new context carrying the credential.
func ContextWithCredential(ctx context.Context, c Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, c)
}

// CredentialFromContext extracts the caller credential from the context.
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	c, ok := ctx.Value(credentialContextKey).(Credential)
	return c, ok && !c.IsZero()
}

// Resolve returns the caller credential if one is attached to ctx, else the
// fallback service credential.
func Resolve(ctx context.Context, fallback Credential) Credential {
	if c, ok := CredentialFromContext(ctx); ok {
		return c
	}
	return fallback
}
