package middleware

import "github.com/labstack/echo/v4"

// UserIDKey is the context key JWTAuth stores the authenticated user under.
const UserIDKey = "user_id"

// UserID returns the authenticated user, or "" for anonymous requests.
func UserID(c echo.Context) string {
	if s, ok := c.Get(UserIDKey).(string); ok {
		return s
	}
	return ""
}

// keyUser is UserID with a placeholder suitable for rate-limit and cache
// keys.
func keyUser(c echo.Context) string {
	if s := UserID(c); s != "" {
		return s
	}
	return "anon"
}
