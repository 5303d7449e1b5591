package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/viotraix/internal/checkout/domain"
)

type createCheckoutRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, checkoutdomain.ErrInvalidTier)
		return
	}

	email := identity.Email
	if p := currentProfile(c); p != nil && email == "" {
		email = p.Email
	}

	result, err := s.checkoutSvc.Create(c.Request.Context(), checkoutdomain.Request{
		UserID: identity.UserID,
		Email:  email,
		Tier:   req.Tier,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
