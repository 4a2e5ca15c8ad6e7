package web

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required by mutating endpoints.
const RoleAdmin = "admin"

const adminTokenTTL = time.Hour

var errInvalidSigningMethod = errors.New("invalid signing method")

// Claims carries the caller identity of an API token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates HS256 bearer tokens. A zero-length secret disables it.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateToken signs a token for subject with role.
func (a *Auth) GenerateToken(subject, role string, now time.Time) (string, error) {
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(adminTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies a token.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidSigningMethod
		}

		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// RequireAdmin rejects requests without a valid admin bearer token. It passes everything when auth is disabled.
func (a *Auth) RequireAdmin(c fiber.Ctx) error {
	if !a.Enabled() {
		return c.Next()
	}

	header := c.Get(fiber.HeaderAuthorization)

	tokenString, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenString == "" {
		return unauthorized(c, "missing bearer token")
	}

	claims, err := a.ValidateToken(tokenString)
	if err != nil {
		return unauthorized(c, "invalid token: "+err.Error())
	}

	if claims.Role != RoleAdmin {
		return forbidden(c, "admin role required")
	}

	c.Locals("subject", claims.Subject)

	return c.Next()
}
