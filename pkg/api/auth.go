package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims. Subject identifies the calling agent.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Authenticator validates HS256 bearer tokens. A nil Authenticator lets
// every request through.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator returns nil when secret is empty.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for subject, valid for ttl.
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses tokenStr and checks signature, algorithm and expiry.
func (a *Authenticator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFrom returns the authenticated claims, nil when auth is off.
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// Require wraps next so that it only runs with a valid bearer token.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	if a == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			WriteUnauthorized(w, r, "Missing Authorization header")
			return
		}
		scheme, tokenStr, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || tokenStr == "" {
			WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		claims, err := a.Validate(tokenStr)
		if err != nil {
			WriteUnauthorized(w, r, "Invalid or expired token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}
