package auth

import (
	"context"
	"errors"
	"net/http"
)

// CompoundAuthEngine tries each engine in order and accepts the first that
// authenticates the request.
type CompoundAuthEngine struct {
	engines []AuthEngine
}

var _ AuthEngine = (*CompoundAuthEngine)(nil)

// NewCompoundAuthEngine combines engines. nil entries are skipped.
func NewCompoundAuthEngine(engines ...AuthEngine) *CompoundAuthEngine {
	c := &CompoundAuthEngine{}
	for _, e := range engines {
		if e != nil {
			c.engines = append(c.engines, e)
		}
	}
	return c
}

// Len returns the number of combined engines.
func (c *CompoundAuthEngine) Len() int {
	return len(c.engines)
}

// AuthenticateRequest returns the first successful result. Engines that found
// no credentials of their kind do not count as failures, so the error is
// ErrNoCredentials only when no engine recognised the request.
func (c *CompoundAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	var errs []error
	for _, e := range c.engines {
		user, err := e.AuthenticateRequest(ctx, r)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil, ErrNoCredentials
	}
	return nil, errors.Join(errs...)
}
