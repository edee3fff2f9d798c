package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass the global authentication middleware: health checks, the
// endpoints a user calls before holding a token, and the session endpoints,
// which verify tokens themselves. Files in the development store are public
// like their S3 counterparts.
var publicPaths = map[string]bool{
	"/health":                      true,
	"/health/db":                   true,
	"/api/v1/auth/register":        true,
	"/api/v1/auth/login":           true,
	"/api/v1/auth/password/forgot": true,
	"/api/v1/auth/password/reset":  true,
	"/api/v1/routes/guard":         true,
	"/api/v1/session":              true,
	"/api/v1/session/stream":       true,
	"/files/:bucket/*":             true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given route path bypasses auth.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
