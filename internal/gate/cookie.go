// ABOUTME: Session cookie policy: naming, scoping and secure attributes
// ABOUTME: Strict SameSite, HttpOnly always, Secure whenever the request came over TLS

package gate

import (
	"net/http"
	"time"
)

// DefaultCookieName is used when the policy does not name the cookie.
const DefaultCookieName = "pushgate_session"

// CookiePolicy controls how the session token travels in a cookie. The
// value itself is opaque; everything meaningful lives server-side.
type CookiePolicy struct {
	Name   string
	Path   string
	Domain string
	TTL    time.Duration
}

func (p CookiePolicy) name() string {
	if p.Name == "" {
		return DefaultCookieName
	}
	return p.Name
}

func (p CookiePolicy) path() string {
	if p.Path == "" {
		return "/"
	}
	return p.Path
}

func (p CookiePolicy) cookie(r *http.Request, token string) *http.Cookie {
	c := &http.Cookie{
		Name:     p.name(),
		Value:    token,
		Path:     p.path(),
		Domain:   p.Domain,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
	if p.TTL > 0 {
		c.MaxAge = int(p.TTL.Seconds())
	}
	return c
}

// Set attaches token as the session cookie on the response.
func (p CookiePolicy) Set(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, p.cookie(r, token))
}

// Clear expires the session cookie on the client.
func (p CookiePolicy) Clear(w http.ResponseWriter, r *http.Request) {
	c := p.cookie(r, "")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// Read extracts the session token from the request, if present.
func (p CookiePolicy) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(p.name())
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
