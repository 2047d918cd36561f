package anchortest

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer signs and verifies SEP-10 session tokens with HMAC-SHA256.
type tokenIssuer struct {
	secret []byte
	issuer string
	expiry time.Duration
}

func newTokenIssuer(secret []byte, issuer string, expiry time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: secret, issuer: issuer, expiry: expiry}
}

func (j *tokenIssuer) issue(account string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   account,
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// verify returns the token subject.
func (j *tokenIssuer) verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Subject, nil
}
