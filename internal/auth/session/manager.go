package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/viotraix/internal/config"
)

const (
	AccessCookieName  = "sb-access-token"
	RefreshCookieName = "sb-refresh-token"

	DefaultAccessMaxAge = time.Hour
	RefreshMaxAge       = 30 * 24 * time.Hour
)

// Manager reads and writes the access and refresh token cookies.
type Manager struct {
	secure bool
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{secure: cfg.AuthCookieSecure}
}

// AccessToken returns the bearer token from the Authorization header, falling
// back to the access cookie.
func (m *Manager) AccessToken(c *gin.Context) (string, bool) {
	if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), true
		}
	}
	return m.read(c, AccessCookieName)
}

func (m *Manager) RefreshToken(c *gin.Context) (string, bool) {
	return m.read(c, RefreshCookieName)
}

// Set stores both tokens. A non-positive expiresIn uses the default access
// lifetime.
func (m *Manager) Set(c *gin.Context, accessToken, refreshToken string, expiresIn time.Duration) {
	if expiresIn <= 0 {
		expiresIn = DefaultAccessMaxAge
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookieName, accessToken, int(expiresIn.Seconds()), "/", "", m.secure, true)
	c.SetCookie(RefreshCookieName, refreshToken, int(RefreshMaxAge.Seconds()), "/", "", m.secure, true)
}

func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookieName, "", -1, "/", "", m.secure, true)
	c.SetCookie(RefreshCookieName, "", -1, "/", "", m.secure, true)
}

func (m *Manager) read(c *gin.Context, name string) (string, bool) {
	token, err := c.Cookie(name)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}
