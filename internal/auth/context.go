package auth

import (
	"context"
	"strings"
)

// Source records where a caller identity came from.
type Source string

const (
	SourceHeader Source = "header"
	SourceQuery  Source = "query"
	SourceBearer Source = "bearer"
)

// Identity is the caller of a request. Zero value means anonymous.
type Identity struct {
	Email  string
	Source Source
}

// Anonymous reports whether no email was supplied.
func (i Identity) Anonymous() bool { return i.Email == "" }

type identityContextKey struct{}

// ContextWithIdentity attaches the caller identity; an empty email is ignored.
func ContextWithIdentity(ctx context.Context, email string, source Source) context.Context {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, Identity{Email: email, Source: source})
}

// IdentityFromContext returns the caller, or the anonymous identity.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	v, _ := ctx.Value(identityContextKey{}).(Identity)
	return v
}

// EmailFromContext extracts the caller email.
func EmailFromContext(ctx context.Context) (string, bool) {
	id := IdentityFromContext(ctx)
	return id.Email, !id.Anonymous()
}
