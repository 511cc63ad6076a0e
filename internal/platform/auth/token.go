package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers bad signatures, malformed tokens and expiry.
var ErrInvalidToken = errors.New("invalid token")

// ErrSubSecond is returned by Issue for an issue time or ttl finer than a second.
var ErrSubSecond = errors.New("issue token: issued-at and ttl must be whole seconds")

// TokenIssuer signs and validates stateless HS512 session tokens. The subject
// is the account email. Timestamps have second precision.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(key []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// TTL is the lifetime given to tokens by IssueNow.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// IssueNow issues a token for subject valid for the configured TTL.
func (t *TokenIssuer) IssueNow(subject string) (string, time.Time, error) {
	issuedAt := t.now().Truncate(time.Second)
	token, err := t.Issue(subject, issuedAt, t.ttl)
	return token, issuedAt.Add(t.ttl), err
}

// Issue signs a token valid from issuedAt until issuedAt+ttl. Claims carry
// whole seconds, so both must be whole seconds for the expiry to be exact.
func (t *TokenIssuer) Issue(subject string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("issue token: empty subject")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("issue token: ttl must be positive")
	}
	if issuedAt.Nanosecond() != 0 || ttl%time.Second != 0 {
		return "", ErrSubSecond
	}
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    t.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate returns the token subject if the token verifies at the current time.
func (t *TokenIssuer) Validate(token string) (string, error) {
	return t.ValidateAt(token, t.now())
}

// ValidateAt returns the token subject if the signature verifies and now is
// before the expiry.
func (t *TokenIssuer) ValidateAt(token string, now time.Time) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
