package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of tokens issued by the platform's identity service
type Claims struct {
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens signed with a shared secret
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
	policy   AdminPolicy
	leeway   time.Duration
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
// Empty issuer or audience disables that check.
func NewJWTAuthenticator(secret, issuer, audience string, policy AdminPolicy) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		policy:   policy,
		leeway:   30 * time.Second,
	}
}

// Authenticate parses and validates token
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return a.policy.NewActor(claims.Subject, claims.Email, claims.Metadata), nil
}

// Sign issues a token for the actor. Used by the CLI and tests.
func (a *JWTAuthenticator) Sign(actor *Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    actor.Email,
		Metadata: actor.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
