package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/viotraix/internal/authorization"
	"github.com/smallbiznis/viotraix/internal/observability/logger"
	reminderdomain "github.com/smallbiznis/viotraix/internal/reminder/domain"
	"go.uber.org/zap"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 200
)

// CronRenewalReminders is the entry point for the external cron trigger.
func (s *Server) CronRenewalReminders(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, authorization.SystemActor, authorization.ObjectReminders, authorization.ActionRemindersRun); err != nil {
		AbortWithError(c, err)
		return
	}
	s.runReminders(c)
}

// RunReminders lets an admin trigger the sweep by hand.
func (s *Server) RunReminders(c *gin.Context) {
	s.runReminders(c)
}

func (s *Server) runReminders(c *gin.Context) {
	ctx := c.Request.Context()
	result, err := s.reminderSvc.Run(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("renewal reminder sweep failed", zap.Error(err))
		AbortWithError(c, errors.Join(reminderdomain.ErrSweepFailed, err))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	limit := defaultEventsLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = min(parsed, maxEventsLimit)
	}

	events, err := s.paymentSvc.ListEvents(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
