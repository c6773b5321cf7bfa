// Package auth issues and verifies the bearer tokens of the HTTP API and
// the chat socket.
package auth

import (
	"errors"
	"time"

	"github.com/dkeye/strealome/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongDomain  = errors.New("token issued for another domain")
)

// Domain scopes a token to one surface.
type Domain string

const (
	DomainHTTP   Domain = "http"
	DomainWSChat Domain = "ws_chat"
)

const issuer = "strealome"

type Claims struct {
	Domain Domain `json:"dom"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) Issue(user domain.UserID, dom Domain) (string, error) {
	now := time.Now()
	claims := Claims{
		Domain: dom,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify checks the signature, expiry and domain of a token and returns
// its subject.
func (m *Manager) Verify(token string, dom Domain) (domain.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if claims.Domain != dom {
		return 0, ErrWrongDomain
	}
	id, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}
