package ginserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/accounts"
	"rentledger/internal/app/handlers/payments"
	"rentledger/internal/app/handlers/settlement"
	"rentledger/internal/app/handlers/withdrawals"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

type errorMapping struct {
	target  error
	status  int
	message string
}

// errorTable is ordered; the first match wins. An empty message means the error text is safe
// to show to the caller.
var errorTable = []errorMapping{
	{commands.ErrInvalidInput, http.StatusBadRequest, ""},
	{settlement.ErrSignatureInvalid, http.StatusBadRequest, "invalid signature"},
	{user.ErrInsufficientBalance, http.StatusBadRequest, "insufficient balance"},
	{user.ErrPayoutDestinationMismatch, http.StatusBadRequest, "destination account does not match the account on file"},
	{user.ErrPayoutAccountMissing, http.StatusBadRequest, "no payout account linked"},
	{user.ErrInvalidAmount, http.StatusBadRequest, "amount must be positive"},
	{payout.ErrInvalidAmount, http.StatusBadRequest, "amount must be positive"},
	{money.ErrTooPrecise, http.StatusBadRequest, "amount has too many decimal places"},
	{money.ErrOutOfRange, http.StatusBadRequest, "amount out of range"},
	{user.ErrNotFound, http.StatusNotFound, "user not found"},
	{rental.ErrNotFound, http.StatusNotFound, "rental not found"},
	{payout.ErrNotFound, http.StatusNotFound, "withdrawal not found"},
	{withdrawals.ErrPayoutFailed, http.StatusBadGateway, "payout failed"},
	{payments.ErrPaymentInitiationFailed, http.StatusInternalServerError, "payment initiation failed"},
	{accounts.ErrAccountCreationFailed, http.StatusInternalServerError, "payout account creation failed"},
	{accounts.ErrOnboardingLinkFailed, http.StatusInternalServerError, "onboarding link creation failed"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			if m.message == "" {
				return m.status, err.Error()
			}
			return m.status, m.message
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError renders {"error": msg}. 5xx responses never carry the underlying error text; it is
// logged under the request's id instead.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(c.Request.Context(), "request failed", "route", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// amountJSON renders minor units as a major-unit JSON number with two decimals (24.50).
func amountJSON(m money.Money) json.Number {
	return json.Number(m.Major().StringFixed(money.MinorUnitDigits))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
