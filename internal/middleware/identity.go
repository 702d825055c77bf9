package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) { return idFrom(c.Get(CtxUserID)) }

// BranchID returns the branch claim of the token, if any.
func BranchID(c echo.Context) (uint64, bool) { return idFrom(c.Get(CtxBranchID)) }

// Role returns the role claim of the token, empty when unauthenticated.
func Role(c echo.Context) string {
	r, _ := c.Get(CtxRole).(string)
	return r
}

// idFrom accepts the shapes an id takes between JWT claims and the echo
// context: JSON numbers decode as float64, ids set in code are uint64.
func idFrom(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, true
	case int:
		return uint64(t), t >= 0
	case int64:
		return uint64(t), t >= 0
	case float64:
		return uint64(t), t >= 0
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// rateSubject identifies the caller for rate limiting.
func rateSubject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
