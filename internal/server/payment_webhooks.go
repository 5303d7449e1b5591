package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
)

// maxWebhookBody bounds a single webhook delivery.
const maxWebhookBody = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	_, err = s.paymentSvc.IngestWebhook(c.Request.Context(), paymentdomain.ProviderLemonSqueezy, payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature),
			errors.Is(err, paymentdomain.ErrMissingUser),
			errors.Is(err, paymentdomain.ErrInvalidPayload),
			errors.Is(err, paymentdomain.ErrProviderNotFound):
			AbortWithError(c, err)
		default:
			AbortWithError(c, errors.Join(ErrWebhookFailed, err))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
