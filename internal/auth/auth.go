// Package auth provides bearer-token verification and rate limiting
// for the orchestrator API. Tokens come from an OIDC issuer or, for
// deployments without one, a shared HMAC secret.
package auth

import (
	"context"
	"time"
)

// Verifier validates a bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Claims represents the identity attached to a verified token.
type Claims struct {
	Subject string   `json:"sub"`
	Name    string   `json:"name,omitempty"`
	Email   string   `json:"email,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Roles   []string `json:"roles,omitempty"`

	// Expiry is the exp claim as unix seconds; zero means no expiry.
	Expiry int64 `json:"exp,omitempty"`
}

// HasRole checks if the user has a specific role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasGroup checks if the user is in a specific group.
func (c *Claims) HasGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// IsExpired checks if the token has expired.
func (c *Claims) IsExpired() bool {
	if c.Expiry == 0 {
		return false
	}
	return time.Now().Unix() >= c.Expiry
}
