package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies ID tokens from an OpenID Connect provider
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	policy   AdminPolicy
}

// NewOIDCAuthenticator discovers the provider at issuerURL
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string, policy AdminPolicy) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), policy), nil
}

// NewOIDCAuthenticatorWithVerifier uses an already configured verifier
func NewOIDCAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, policy AdminPolicy) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier, policy: policy}
}

// Authenticate verifies the ID token and maps its claims to an actor
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, token string) (*Actor, error) {
	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var claims struct {
		Email  string         `json:"email"`
		Role   string         `json:"role"`
		Groups []string       `json:"groups"`
		Meta   map[string]any `json:"user_metadata"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %w", ErrInvalidToken, err)
	}

	metadata := claims.Meta
	if metadata == nil {
		metadata = map[string]any{}
	}
	if claims.Role != "" {
		metadata["role"] = claims.Role
	}
	if len(claims.Groups) > 0 {
		metadata["groups"] = claims.Groups
	}

	return a.policy.NewActor(idToken.Subject, claims.Email, metadata), nil
}
