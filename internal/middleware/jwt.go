package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxUserID   = "user_id"
	CtxRole     = "role"
	CtxBranchID = "branch_id"
)

// JWTAuth validates an HS256 Bearer token and stores its sub, role and
// branch claims in the echo context under CtxUserID, CtxRole and
// CtxBranchID.  Staff tokens carry the branch they operate; member tokens
// may omit it.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, keyFunc)
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			uid, ok := idFrom(claims["sub"])
			if !ok || uid == 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			c.Set(CtxUserID, uid)
			if role, ok := claims["role"].(string); ok {
				c.Set(CtxRole, role)
			}
			if branch, ok := idFrom(claims["branch_id"]); ok && branch != 0 {
				c.Set(CtxBranchID, branch)
			}
			return next(c)
		}
	}
}
