package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
)

type createSessionRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// CreateSession stores the tokens from a client-side sign-in as httpOnly
// cookies.
func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, authdomain.ErrMissingTokens)
		return
	}

	access := strings.TrimSpace(req.AccessToken)
	refresh := strings.TrimSpace(req.RefreshToken)
	if access == "" || refresh == "" {
		AbortWithError(c, authdomain.ErrMissingTokens)
		return
	}

	s.sessions.Set(c, access, refresh, time.Duration(req.ExpiresIn)*time.Second)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) Logout(c *gin.Context) {
	s.sessions.Clear(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
