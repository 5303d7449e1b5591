package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetUsage returns the resolved entitlement of the caller.
func (s *Server) GetUsage(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	entitlement, err := s.usageSvc.Resolve(c.Request.Context(), identity.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, entitlement)
}

func (s *Server) GetStats(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	stats, err := s.auditSvc.Stats(c.Request.Context(), identity.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
