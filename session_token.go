package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	SessionKindDeletion     = "deletion"
	SessionKindVerification = "verification"
)

const minSecretLength = 32

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionClaims ties a bearer token to one open wizard.
type SessionClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

type SessionTokenCreator interface {
	CreateSessionToken(kind, sessionId string) (string, error)
	ParseSessionToken(token, kind string) (sessionId string, err error)
}

func NewHmacSessionTokenCreator(secret []byte, issuer string, ttl time.Duration) (*HmacSessionTokenCreator, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HmacSessionTokenCreator{secret: secret, issuer: issuer, ttl: ttl}, nil
}

type HmacSessionTokenCreator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func (tc *HmacSessionTokenCreator) timeNow() time.Time {
	if tc.now != nil {
		return tc.now()
	}
	return time.Now()
}

func (tc *HmacSessionTokenCreator) CreateSessionToken(kind, sessionId string) (string, error) {
	now := tc.timeNow()
	claims := SessionClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tc.issuer,
			Subject:   sessionId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.secret)
}

// ParseSessionToken checks signature, expiry, issuer and kind and returns
// the session id the token was issued for.
func (tc *HmacSessionTokenCreator) ParseSessionToken(token, kind string) (string, error) {
	claims := &SessionClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}

	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return tc.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if !claims.VerifyIssuer(tc.issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrInvalidSessionToken, claims.Issuer)
	}
	if claims.Kind != kind {
		return "", fmt.Errorf("%w: token is for a %s session", ErrInvalidSessionToken, claims.Kind)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing session id", ErrInvalidSessionToken)
	}
	return claims.Subject, nil
}
