package httpapi

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

// Operator roles accepted on mutating routes. Role assignment itself is owned
// by the external auth collaborator; this middleware only reads the claims.
const (
	RoleAdministrator   = "administrator"
	RoleCoAdministrator = "co_administrator"
)

const operatorLocalsKey = "operator"

// OperatorClaims is the identity the external auth service encodes into the
// bearer token. Subject carries the operator id.
type OperatorClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware parses the bearer token and stores the operator identity
// in the request context. Callers without an administrator or
// co-administrator role are rejected.
func NewAuthMiddleware(jwtSecret string) fiber.Handler {
	secret := []byte(jwtSecret)
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &OperatorClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		if claims.Role != RoleAdministrator && claims.Role != RoleCoAdministrator {
			return fiber.NewError(fiber.StatusForbidden, "operator role required")
		}

		c.Locals(operatorLocalsKey, claims)
		return c.Next()
	}
}

// OperatorFrom returns the authenticated operator identity of the request.
func OperatorFrom(c *fiber.Ctx) *OperatorClaims {
	claims, _ := c.Locals(operatorLocalsKey).(*OperatorClaims)
	return claims
}

// operatorID is the identity string written into scheduled_by / marked_by.
func operatorID(c *fiber.Ctx) string {
	claims := OperatorFrom(c)
	if claims == nil {
		return ""
	}
	if claims.Subject != "" {
		return claims.Subject
	}
	return claims.Name
}
