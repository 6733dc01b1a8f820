package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutorflow/internal/model"
)

// Claims represents the identity provider's JWT payload. The subject is the
// backend user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts the claims into the identity a controller acts for.
func (c Claims) Identity() (model.Identity, error) {
	if c.Subject == "" {
		return model.Identity{}, errors.New("token has no subject")
	}
	role := model.Role(c.Role)
	if role != model.RoleStudent && role != model.RoleTutor {
		return model.Identity{}, fmt.Errorf("unsupported role %q", c.Role)
	}
	return model.Identity{UserID: c.Subject, DisplayName: c.Name, Role: role}, nil
}

// Issue signs an HS256 token for id. It backs the development token
// endpoint and tests; production tokens come from the identity provider.
func Issue(id model.Identity, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Name: id.DisplayName,
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	return *claims, nil
}
