// Package auth issues and verifies the bearer tokens of the API and answers
// the permission and tenant questions the calendar asks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"agenda/internal/store"
)

// Capability names a permission gate.
type Capability string

const (
	CapEdit       Capability = "appointments.edit"
	CapReschedule Capability = "appointments.reschedule"
	CapDelete     Capability = "appointments.delete"
	CapSuperAdmin Capability = "super_admin"
)

// RoleSuperAdmin grants every capability and cross-tenant visibility.
const RoleSuperAdmin = "super_admin"

const issuer = "agenda"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
)

type Claims struct {
	UserID       string       `json:"user_id"`
	Name         string       `json:"name,omitempty"`
	CompanyID    string       `json:"company_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// SuperAdmin reports whether the holder sees every tenant.
func (c *Claims) SuperAdmin() bool {
	return c.Role == RoleSuperAdmin || slices.Contains(c.Capabilities, CapSuperAdmin)
}

// HasPermission reports whether the holder may use capability want.
func (c *Claims) HasPermission(want Capability) bool {
	if c == nil {
		return false
	}
	return c.SuperAdmin() || slices.Contains(c.Capabilities, want)
}

// Scope is the tenant filter for the holder.
func (c *Claims) Scope() store.Scope {
	return store.Scope{CompanyID: c.CompanyID, SuperAdmin: c.SuperAdmin()}
}

// Affordances are the interactive gates of the calendar.
type Affordances struct {
	Drag   bool `json:"drag"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

func (c *Claims) Affordances() Affordances {
	return Affordances{
		Drag:   c.HasPermission(CapReschedule),
		Edit:   c.HasPermission(CapEdit),
		Delete: c.HasPermission(CapDelete),
	}
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs c, filling subject, issuer, id and validity window.
func (s *Signer) Issue(c Claims) (string, error) {
	now := s.now()
	c.Subject = c.UserID
	c.Issuer = issuer
	c.ID = uuid.NewString()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.NotBefore = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and returns its claims.
func (s *Signer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !tok.Valid:
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || (claims.CompanyID == "" && !claims.SuperAdmin()) {
		return nil, fmt.Errorf("%w: missing user or company", ErrInvalidToken)
	}
	return claims, nil
}

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the claims stored by the auth middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}
