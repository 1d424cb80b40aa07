// Package jwt parses the dashboard session tokens into a user principal.
package jwt

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims are the claims signed by the dashboard session layer.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"uid"`
	IsAdmin bool   `json:"is_admin"`
}

// JWT signs and parses HS256 session tokens.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// New creates a JWT helper, secret must not be empty.
func New(secret []byte) (*JWT, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}

	return &JWT{
		secret: secret,
		now:    time.Now,
	}, nil
}

// Sign signs claims, used by tooling and tests, the dashboard signs its own tokens.
func (j *JWT) Sign(claims *UserClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}

	return signed, nil
}

// Parse verifies the signature and time claims of token and returns its claims.
func (j *JWT) Parse(token string) (*UserClaims, error) {
	token = StripBearerPrefix(token)
	if token == "" {
		return nil, errors.New("empty token")
	}

	claims := new(UserClaims)
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return j.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}

	return claims, nil
}

// StripBearerPrefix removes an optional "Bearer " prefix.
func StripBearerPrefix(value string) string {
	out := strings.TrimSpace(value)
	if strings.EqualFold(out, "bearer") {
		return ""
	}
	if len(out) >= len("bearer ") && strings.EqualFold(out[:len("bearer ")], "bearer ") {
		out = strings.TrimSpace(out[len("bearer "):])
	}

	return out
}
