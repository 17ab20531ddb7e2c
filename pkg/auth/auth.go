package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role gates access to the admin surface (/api/servers mutation,
// load balancer configuration).
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

var (
	// ErrInvalidToken covers malformed, mis-signed, and expired tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden is returned when the token's role is insufficient.
	ErrForbidden = errors.New("insufficient role")
)

// Claims are the validated contents of a drover bearer token.
type Claims struct {
	Subject string
	Role    Role
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue mints an HS256 bearer token for the given subject and role.
func Issue(secret, subject string, role Role, ttl time.Duration) (string, error) {
	if role != RoleAdmin && role != RoleClient {
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	claims := tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "drover",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a bearer token, returning its claims.
func Validate(secret, tokenString string) (*Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	role := Role(claims.Role)
	if role != RoleAdmin && role != RoleClient {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject: claims.Subject,
		Role:    role,
	}, nil
}

// Allows reports whether the claim's role satisfies the required role.
// Admin satisfies everything; client satisfies client.
func (c *Claims) Allows(required Role) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == required
}
