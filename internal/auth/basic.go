package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
)

// BasicAuthEngine accepts HTTP Basic credentials matching a single
// configured access key and secret.
type BasicAuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string
}

var _ AuthEngine = (*BasicAuthEngine)(nil)

// NewBasicAuthEngine creates a new BasicAuthEngine with the given access key ID
// and secret access key.
func NewBasicAuthEngine(accessKeyID, secretAccessKey string) *BasicAuthEngine {
	return &BasicAuthEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials.
func (e *BasicAuthEngine) AuthenticateRequest(_ context.Context, r *http.Request) (*User, error) {
	accessKeyID, secret, ok := r.BasicAuth()
	if !ok {
		return nil, ErrNoCredentials
	}

	keyMatch := subtle.ConstantTimeCompare([]byte(accessKeyID), []byte(e.AccessKeyID))
	secretMatch := subtle.ConstantTimeCompare([]byte(secret), []byte(e.SecretAccessKey))
	if keyMatch&secretMatch != 1 {
		return nil, ErrInvalidCredentials
	}

	return &User{Name: accessKeyID}, nil
}
