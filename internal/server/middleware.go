package server

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
	"github.com/smallbiznis/viotraix/internal/authorization"
	obscontext "github.com/smallbiznis/viotraix/internal/observability/context"
	"github.com/smallbiznis/viotraix/internal/observability/logger"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	"go.uber.org/zap"
)

const (
	contextIdentityKey = "identity"
	contextProfileKey  = "profile"
)

// AuthRequired verifies the access token, makes sure the user has a profile
// row and stores both on the request.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.AccessToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		identity, err := s.verifier.Verify(ctx, token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		profile, err := s.profileSvc.Ensure(ctx, identity.UserID, identity.Email)
		if err != nil {
			logger.FromContext(ctx).Error("ensure profile", zap.String("user_id", identity.UserID), zap.Error(err))
			AbortWithError(c, err)
			return
		}
		if identity.Email == "" {
			identity.Email = profile.Email
		}

		c.Request = c.Request.WithContext(obscontext.WithUserID(ctx, identity.UserID))
		c.Set(contextIdentityKey, identity)
		c.Set(contextProfileKey, profile)
		c.Next()
	}
}

func currentIdentity(c *gin.Context) (authdomain.Identity, bool) {
	v, ok := c.Get(contextIdentityKey)
	if !ok {
		return authdomain.Identity{}, false
	}
	identity, ok := v.(authdomain.Identity)
	return identity, ok && identity.UserID != ""
}

func currentProfile(c *gin.Context) *profiledomain.Profile {
	v, ok := c.Get(contextProfileKey)
	if !ok {
		return nil
	}
	profile, _ := v.(*profiledomain.Profile)
	return profile
}

// requireUser returns the authenticated user id, aborting when there is none.
func requireUser(c *gin.Context) (authdomain.Identity, bool) {
	identity, ok := currentIdentity(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return authdomain.Identity{}, false
	}
	return identity, true
}

func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := requireUser(c)
		if !ok {
			return
		}
		actor := authorization.Actor{UserID: identity.UserID, Email: identity.Email}
		if p := currentProfile(c); p != nil && actor.Email == "" {
			actor.Email = p.Email
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// AuditRateLimit throttles the per-user audit endpoints.
func (s *Server) AuditRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}
		identity, ok := requireUser(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.Allow(ctx, endpoint, identity.UserID)
		if err != nil {
			// Limiter errors fail open.
			logger.FromContext(ctx).Warn("audit rate limit check failed", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			}
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "user-rate")
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		}
		c.Next()
	}
}

// CronRequired checks the bearer cron secret. Without a configured secret
// the endpoint is open.
func (s *Server) CronRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.CronSecret
		if secret == "" {
			c.Next()
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
