package access

import "strings"

// authOnlyRoutes are for signed-out users; signed-in users are sent to their
// profile.
var authOnlyRoutes = map[string]bool{
	"/login":          true,
	"/register":       true,
	"/reset-password": true,
}

var protectedExact = map[string]bool{
	"/profile":           true,
	"/profile/customize": true,
	"/meal-plans/new":    true,
}

var protectedPrefixes = []string{"/admin/", "/nutritionist/", "/meal-plans/"}

// GuardResult tells a client whether to render path or redirect.
type GuardResult struct {
	Path     string `json:"path"`
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

// Guard evaluates a client route for a signed-in or signed-out user. Unknown
// routes behave like "/".
func Guard(path string, authenticated bool) GuardResult {
	p := normalizePath(path)
	res := GuardResult{Path: p}

	switch {
	case authOnlyRoutes[p]:
		if authenticated {
			res.Redirect = DestinationProfile.Path()
		}
	case isProtected(p):
		if !authenticated {
			res.Redirect = DestinationLogin.Path()
		}
	default:
		if authenticated {
			res.Redirect = DestinationProfile.Path()
		} else {
			res.Redirect = DestinationLogin.Path()
		}
	}
	res.Allowed = res.Redirect == ""
	return res
}

func isProtected(p string) bool {
	if protectedExact[p] {
		return true
	}
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
