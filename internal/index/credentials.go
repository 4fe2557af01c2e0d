// Package index talks to the package index: an upload client for the
// publish stage and a small development server for local pipeline testing.
package index

import "fmt"

// Credentials carries the authentication material for one publish run.
// The token lives in an unexported field and is excluded from every
// printed representation, so it cannot leak through logs or %v formatting.
type Credentials struct {
	Username string
	token    string
}

// NewCredentials builds credentials from an automation identity and token
func NewCredentials(username, token string) Credentials {
	return Credentials{Username: username, token: token}
}

// Token returns the raw token for request signing
func (c Credentials) Token() string {
	return c.token
}

// Empty reports whether no token was provided
func (c Credentials) Empty() bool {
	return c.token == ""
}

// String implements fmt.Stringer with the token redacted
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{username:%s token:[redacted]}", c.Username)
}

// GoString keeps %#v output redacted as well
func (c Credentials) GoString() string {
	return c.String()
}
