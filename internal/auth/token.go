package auth

import (
	"net/http"
	"strings"
)

// AccessTokenCookie is the cookie set by the storefront after login.
const AccessTokenCookie = "access_token"

// ExtractAccessToken returns the caller's token from the access cookie or,
// failing that, a Bearer Authorization header. Empty means anonymous.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		if v := strings.TrimSpace(cookie.Value); v != "" {
			return v
		}
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
