package auth

import (
	"net/http"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // empty = current host only
	Secure   bool
	SameSite string // "strict", "lax" or "none"
}

// SetAuthCookies stores both tokens in httpOnly cookies, each living as long
// as the token it carries.
func SetAuthCookies(w http.ResponseWriter, pair *models.TokenPair, cfg CookieConfig) {
	setTokenCookie(w, AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt, cfg)
	setTokenCookie(w, RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt, cfg)
}

func setTokenCookie(w http.ResponseWriter, name, value string, expires time.Time, cfg CookieConfig) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: parseSameSite(cfg.SameSite),
	})
}

// ClearAuthCookies expires both token cookies.
func ClearAuthCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: parseSameSite(cfg.SameSite),
		})
	}
}

// TokenFromCookie returns the named cookie's value or "" if absent.
func TokenFromCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
