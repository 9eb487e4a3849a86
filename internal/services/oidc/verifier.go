package oidc

import (
	"context"
	"fmt"

	"github.com/benvon/render-gate/internal/models"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier verifies JWT tokens
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
}

// NewVerifier creates a verifier for tokens issued by issuer. audience is
// checked only when non-empty.
func NewVerifier(keys KeySource, issuer, audience string) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
	}
}

// Verify checks signature, expiry, issuer and audience, and returns the
// caller identity. Invalid tokens wrap models.ErrUnauthenticated; key fetch
// failures wrap models.ErrUnavailable.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (models.Identity, error) {
	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return models.Identity{}, err
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}

	if token.Subject() == "" {
		return models.Identity{}, fmt.Errorf("%w: token missing subject claim", models.ErrUnauthenticated)
	}

	identity := models.Identity{Subject: token.Subject()}
	if email, ok := token.Get("email"); ok {
		if emailStr, ok := email.(string); ok {
			identity.Email = emailStr
		}
	}
	if name, ok := token.Get("name"); ok {
		if nameStr, ok := name.(string); ok {
			identity.Name = nameStr
		}
	}

	return identity, nil
}
