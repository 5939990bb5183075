package identity

import (
	"net/http"
	"strings"
)

const (
	// CookieName is the same-origin cookie carrying the access token
	CookieName = "access_token"

	// QueryParam is the last-resort query parameter carrying the access token
	QueryParam = "token"
)

// ExtractCredential returns the bearer credential presented with r, or "".
// Sources are tried in order: Authorization: Bearer header, access token
// cookie, token query parameter.
func ExtractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return r.URL.Query().Get(QueryParam)
}
