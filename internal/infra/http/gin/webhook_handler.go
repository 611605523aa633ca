package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/settlement"
)

const maxWebhookBody = 1 << 20

// SignatureHeader carries the gateway's payload signature.
const SignatureHeader = "Stripe-Signature"

type WebhookHandler struct {
	Commands commands.Bus
	Logger   *slog.Logger
}

// Receive passes the raw body through untouched; the signature covers the exact bytes. Any
// failure after authentication answers 5xx so the gateway redelivers.
func (h WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		badRequest(c, "unreadable body")
		return
	}
	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		badRequest(c, "missing signature")
		return
	}
	cmd := settlement.ProcessEventCommand{Payload: payload, Signature: signature}
	_, err = commands.Dispatch[settlement.ProcessEventCommand, settlement.ProcessEventResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		status, msg := statusFor(err)
		if status < http.StatusInternalServerError && !errors.Is(err, settlement.ErrSignatureInvalid) && !errors.Is(err, commands.ErrInvalidInput) {
			// Unknown rentals or owners may still be in flight; ask for redelivery.
			status, msg = http.StatusInternalServerError, "internal error"
		}
		if status >= http.StatusInternalServerError && h.Logger != nil {
			h.Logger.Error("webhook processing failed", "error", err, "status", status)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

var _ WebhookHTTP = WebhookHandler{}
