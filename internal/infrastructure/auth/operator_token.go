// Package auth issues and validates the bearer tokens required on operator
// mutation routes.
package auth

import (
	"errors"
	"time"

	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrMissingSecret = errors.New("operator secret is not configured")
)

// OperatorTokens signs and checks HS256 tokens with a shared secret
type OperatorTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewOperatorTokens creates token operations over the operator settings of cfg
func NewOperatorTokens(cfg config.HTTPConfig) *OperatorTokens {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.OperatorIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.OperatorIssuer))
	}
	return &OperatorTokens{
		secret: []byte(cfg.OperatorSecret),
		issuer: cfg.OperatorIssuer,
		ttl:    cfg.OperatorTokenTTL,
		now:    time.Now,
		parser: jwt.NewParser(opts...),
	}
}

// Enabled reports whether a secret is configured
func (t *OperatorTokens) Enabled() bool {
	return len(t.secret) > 0
}

// Issue signs a token for subject, valid for the configured TTL
func (t *OperatorTokens) Issue(subject string) (string, error) {
	if !t.Enabled() {
		return "", ErrMissingSecret
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    t.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate checks the signature, issuer and expiry of token and returns its claims
func (t *OperatorTokens) Validate(token string) (*jwt.RegisteredClaims, error) {
	if !t.Enabled() {
		return nil, ErrMissingSecret
	}
	var claims jwt.RegisteredClaims
	_, err := t.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
