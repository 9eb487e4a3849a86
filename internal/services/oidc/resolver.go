package oidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/request"
)

// Resolver resolves the caller from a bearer token in the Authorization header.
type Resolver struct {
	verifier *Verifier
}

// NewResolver creates a resolver backed by verifier.
func NewResolver(verifier *Verifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve implements gate.IdentityResolver.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (models.Identity, error) {
	if req.Header.Get("Authorization") == "" {
		return models.Identity{}, fmt.Errorf("%w: missing Authorization header", models.ErrUnauthenticated)
	}
	token, ok := request.BearerToken(req)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: invalid Authorization header format", models.ErrUnauthenticated)
	}
	return r.verifier.Verify(ctx, token)
}
