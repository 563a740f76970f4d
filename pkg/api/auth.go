package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"
)

// extractAuthor extracts an author label for request logging only. It
// trusts X-Forwarded-User/X-Forwarded-Email the way tarsy's extractAuthor
// trusts its oauth2-proxy headers, but — unlike tarsy, which runs behind
// that proxy and treats the headers as authentication — this build is
// not deployed behind an external auth proxy, so these headers are never
// used to authenticate a request, only to label it in the request log
// when a caller's gateway happens to set them.
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" if the header is absent or malformed.
func bearerToken(c *echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
