// Package identity turns bearer tokens into actors and decides, once, which
// actors are administrators.
package identity

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// Roles an actor may hold
const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// ErrInvalidToken is returned when a token fails verification
var ErrInvalidToken = errors.New("invalid token")

// Actor is an authenticated caller
type Actor struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
}

// HasRole reports whether the actor holds role. A nil actor holds none.
func (a *Actor) HasRole(role string) bool {
	return a != nil && slices.Contains(a.Roles, role)
}

// Authenticator resolves a bearer token into an actor
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Actor, error)
}

// AdminPolicy decides which actors get RoleAdmin
type AdminPolicy struct {
	// Emails always treated as administrators
	Emails []string
	// MatchEmailSubstring grants admin to any email containing "admin"
	MatchEmailSubstring bool
}

// IsAdmin reports whether the identity qualifies as an administrator
func (p AdminPolicy) IsAdmin(email string, metadata map[string]any) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		for _, e := range p.Emails {
			if strings.EqualFold(strings.TrimSpace(e), email) {
				return true
			}
		}
		if p.MatchEmailSubstring && strings.Contains(email, "admin") {
			return true
		}
	}
	if role, ok := metadata["role"].(string); ok && strings.EqualFold(role, RoleAdmin) {
		return true
	}
	if flag, ok := metadata["is_admin"].(bool); ok && flag {
		return true
	}
	return false
}

// NewActor builds an actor and attaches RoleAdmin when the policy grants it
func (p AdminPolicy) NewActor(id, email string, metadata map[string]any, roles ...string) *Actor {
	a := &Actor{ID: id, Email: email, Metadata: metadata, Roles: slices.Clone(roles)}
	if p.IsAdmin(email, metadata) && !a.HasRole(RoleAdmin) {
		a.Roles = append(a.Roles, RoleAdmin)
	}
	return a
}

type ctxKey struct{}

// WithActor returns a context carrying the actor
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor stored in ctx, or nil for anonymous callers
func FromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(ctxKey{}).(*Actor)
	return a
}

// Chain tries each authenticator in order and returns the first success
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, token string) (*Actor, error) {
	var errs []error
	for _, a := range c {
		actor, err := a.Authenticate(ctx, token)
		if err == nil {
			return actor, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrInvalidToken
	}
	return nil, errors.Join(errs...)
}
