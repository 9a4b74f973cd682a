package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// StaticVerifier validates HMAC-signed bearer tokens against a shared
// secret. It covers deployments without an OIDC issuer.
type StaticVerifier struct {
	secret []byte
}

// NewStaticVerifier creates a verifier over a shared secret.
func NewStaticVerifier(secret string) *StaticVerifier {
	return &StaticVerifier{secret: []byte(secret)}
}

type staticClaims struct {
	jwt.RegisteredClaims
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Verify validates a token signature and expiry and returns its claims.
func (v *StaticVerifier) Verify(_ context.Context, rawToken string) (*Claims, error) {
	rawToken = strings.TrimPrefix(rawToken, "Bearer ")
	rawToken = strings.TrimPrefix(rawToken, "bearer ")

	claims := &staticClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	out := &Claims{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
		Groups:  claims.Groups,
		Roles:   claims.Roles,
	}
	if claims.ExpiresAt != nil {
		out.Expiry = claims.ExpiresAt.Unix()
	}
	return out, nil
}

var _ Verifier = (*StaticVerifier)(nil)
