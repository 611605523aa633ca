package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/withdrawals"
)

type WithdrawalsHandler struct {
	Commands commands.Bus
	Logger   *slog.Logger
}

// withdrawRequest accepts the destination under its current name and two older aliases.
type withdrawRequest struct {
	Amount               *decimal.Decimal `json:"amount"`
	UserID               string           `json:"userId"`
	DestinationAccountID string           `json:"destinationAccountId"`
	StripeAccountID      string           `json:"stripeAccountId"`
	AccountID            string           `json:"accountId"`
}

func (h WithdrawalsHandler) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Amount == nil {
		badRequest(c, "amount is required")
		return
	}
	cmd := withdrawals.WithdrawCommand{
		Amount:               *req.Amount,
		UserID:               req.UserID,
		DestinationAccountID: firstNonEmpty(req.DestinationAccountID, req.StripeAccountID, req.AccountID),
		ClientKey:            c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[withdrawals.WithdrawCommand, withdrawals.WithdrawResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transferId":   result.TransferID,
		"withdrawalId": result.WithdrawalID,
		"fee":          amountJSON(result.Fee),
		"newBalance":   amountJSON(result.NewBalance),
	})
}

var _ WithdrawalsHTTP = WithdrawalsHandler{}
