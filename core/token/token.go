// Package token issues and verifies the signed, time-bounded bearer tokens
// that assert a subject's identity to the API.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
)

// DefaultLifetime is how long an issued token stays valid.
const DefaultLifetime = 24 * time.Hour

var (
	ErrInvalidToken = core.NewError(core.KindInvalidToken, "invalid token")
	ErrTokenExpired = core.NewError(core.KindTokenExpired, "token expired")
	ErrNoSigningKey = errors.New("token: signing key is not set")

	signingMethod = jwt.SigningMethodHS256
)

// Claims represents the authorization claims transmitted via a token.
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues and verifies tokens with a process-wide signing key.
type Service struct {
	key      []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// NewService returns a token Service. It refuses to work without a signing key.
func NewService(key, issuer string, lifetime time.Duration) (*Service, error) {
	if key == "" {
		return nil, ErrNoSigningKey
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Service{
		key:      []byte(key),
		issuer:   issuer,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// NewServiceFromConfig builds the token Service from the application config.
func NewServiceFromConfig(conf *core.Config) (*Service, error) {
	return NewService(conf.SecretKey, conf.AppName, conf.JWTExpirationDelta)
}

// SetClock replaces the clock used to stamp and check tokens.
func (svc *Service) SetClock(now func() time.Time) {
	svc.now = now
}

// Lifetime returns how long issued tokens are valid.
func (svc *Service) Lifetime() time.Duration {
	return svc.lifetime
}

// Issue signs a token for subjectID, valid for the service lifetime from now.
func (svc *Service) Issue(subjectID string) (string, Claims, error) {
	if subjectID == "" {
		return "", Claims{}, errors.New("token: empty subject")
	}
	now := svc.now().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    svc.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(svc.lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(svc.key)
	if err != nil {
		return "", Claims{}, errors.Wrap(err, "signing token")
	}
	return signed, claims, nil
}

// Verify checks the token signature and expiry and returns the subject it was issued for.
func (svc *Service) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrInvalidToken
	}

	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		tokenStr,
		claims,
		func(*jwt.Token) (interface{}, error) { return svc.key, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(svc.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
