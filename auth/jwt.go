package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/church-treasury/treasury"
)

// ErrUnauthenticated means no usable credentials were presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider yields the Identity of an incoming request or fails closed.
type Provider interface {
	Authenticate(r *http.Request) (Identity, error)
}

// Claims carried in access tokens.
type Claims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	ChurchID string `json:"church_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider validates HMAC-signed Bearer tokens.
type JWTProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTProvider(secret, issuer string, ttl time.Duration) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for id.
func (p *JWTProvider) Issue(id Identity) (string, error) {
	now := p.now()
	claims := Claims{
		Email:    id.Email,
		Role:     string(id.Role),
		ChurchID: string(id.ChurchID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a raw token and returns its identity.
func (p *JWTProvider) Parse(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithTimeFunc(p.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	return Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Role:     role,
		ChurchID: treasury.ChurchID(claims.ChurchID),
	}, nil
}

// Authenticate reads "Authorization: Bearer <token>".
func (p *JWTProvider) Authenticate(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Identity{}, fmt.Errorf("%w: invalid token format", ErrUnauthenticated)
	}
	return p.Parse(parts[1])
}

// =============================================================================
// CONTEXT
// =============================================================================

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
