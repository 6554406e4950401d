// Package auth issues and checks the HS256 session tokens of terminal
// operators and school administrators.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the access tier carried by a token.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Allows reports whether a token of role r may call an action requiring need.
// Admin tokens satisfy operator requirements.
func (r Role) Allows(need Role) bool {
	switch need {
	case RoleOperator:
		return r == RoleOperator || r == RoleAdmin
	case RoleAdmin:
		return r == RoleAdmin
	}
	return false
}

// Token is a signed token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims represents JWT payload. Subject is the operator id for operator
// tokens and the user email for admin tokens.
type Claims struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for subject.
func Issue(subject string, role Role, name, issuer, key string, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("token subject required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Subject: subject,
		Role:    role,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Role != RoleOperator && claims.Role != RoleAdmin {
		return Claims{}, errors.New("unknown role")
	}
	return *claims, nil
}
