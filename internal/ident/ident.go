// Package ident generates identifiers for newly stored objects.
package ident

import "github.com/rs/xid"

// New returns a globally unique identifier. Identifiers sort
// lexicographically in generation order and only contain the characters
// [0-9a-v].
func New() string {
	return xid.New().String()
}

// Valid reports whether id could have been produced by New.
func Valid(id string) bool {
	_, err := xid.FromString(id)
	return err == nil
}
