package protocol

import (
	"net/http"
	"time"

	"ssogate/internal/exchange/models"
)

// NewMarkerCookie holds id on the Relying Party for at most lifetime.
func NewMarkerCookie(id string, lifetime time.Duration, secure bool) *http.Cookie {
	maxAge := int(models.LifetimeOrDefault(lifetime) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     MarkerCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearMarkerCookie expires the marker cookie.
func ClearMarkerCookie(secure bool) *http.Cookie {
	return expired(MarkerCookie, secure)
}

// NewSessionCookie carries the Authority session credential.
func NewSessionCookie(value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie expires the Authority session cookie.
func ClearSessionCookie(secure bool) *http.Cookie {
	return expired(SessionCookie, secure)
}

func expired(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieValue returns the named cookie's value, or "" when absent.
func CookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
