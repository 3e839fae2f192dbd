package httpapi

import (
	"net/http"
	"strings"
)

func (s *Server) sameSite() http.SameSite {
	switch strings.ToLower(s.opts.Cookie.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Cookie.Name,
		Value:    raw,
		Path:     s.opts.Cookie.Path,
		Domain:   s.opts.Cookie.Domain,
		MaxAge:   int(s.opts.RefreshTTL.Seconds()),
		Secure:   s.opts.Cookie.Secure,
		HttpOnly: true,
		SameSite: s.sameSite(),
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Cookie.Name,
		Value:    "",
		Path:     s.opts.Cookie.Path,
		Domain:   s.opts.Cookie.Domain,
		MaxAge:   -1,
		Secure:   s.opts.Cookie.Secure,
		HttpOnly: true,
		SameSite: s.sameSite(),
	})
}

// refreshCookie returns the raw refresh token, or "" when the cookie is absent.
func (s *Server) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(s.opts.Cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}
