// Package auth maps bearer credentials to account ids.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNoSecret        = errors.New("jwt secret is empty")
)

// Authenticator resolves a credential to the account it belongs to.
type Authenticator interface {
	Authenticate(credential string) (accountID string, err error)
}

// Claims carries the account id in the user_id claim.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 tokens.
type JWT struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Option func(*JWT)

func WithTTL(d time.Duration) Option {
	return func(j *JWT) {
		if d > 0 {
			j.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *JWT) { j.now = now }
}

func NewJWT(secret string, opts ...Option) (*JWT, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	j := &JWT{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		issuer: "papertrade",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Issue signs a token for accountID.
func (j *JWT) Issue(accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("issue token: empty account id")
	}
	now := j.now()
	claims := Claims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return signed, nil
}

// Authenticate accepts a bare token or an "Authorization: Bearer" value.
func (j *JWT) Authenticate(credential string) (string, error) {
	token := strings.TrimSpace(credential)
	if scheme, rest, ok := strings.Cut(token, " "); ok && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return "", fmt.Errorf("authenticate: %w: missing token", ErrUnauthenticated)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w: %w", ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("authenticate: %w: no user_id claim", ErrUnauthenticated)
	}
	return claims.UserID, nil
}
