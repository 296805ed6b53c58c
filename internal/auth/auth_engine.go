package auth

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNoCredentials means the request carries no credentials this engine
	// understands.
	ErrNoCredentials = errors.New("no credentials")

	// ErrInvalidCredentials means the request carried credentials that did
	// not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User identifies an authenticated caller.
type User struct {
	Name string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. On success it returns the caller. Otherwise
	// it returns an error wrapping ErrNoCredentials when the request has
	// nothing for this engine, or ErrInvalidCredentials when it does not
	// match.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (*User, error)
}

type userContextKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by WithUser, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok && user != nil
}
