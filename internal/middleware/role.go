package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	RoleMember = "MEMBER"
	RoleStaff  = "STAFF"
)

// RequireRole rejects requests whose token role is not one of roles.  It
// must run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// RequireBranch rejects staff tokens that carry no branch claim.
func RequireBranch() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := BranchID(c); !ok {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "branch claim required"})
			}
			return next(c)
		}
	}
}
