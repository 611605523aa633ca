package ginserver

import (
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"rentledger/internal/app/handlers/ledger"
	"rentledger/internal/app/queries"
)

type LedgerHandler struct {
	Queries queries.Bus
	Logger  *slog.Logger
}

func (h LedgerHandler) Balance(c *gin.Context) {
	view, err := queries.Ask[ledger.GetBalanceQuery, ledger.BalanceView](c.Request.Context(), h.Queries, ledger.GetBalanceQuery{UserID: c.Param("id")})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":          view.UserID,
		"balance":         amountJSON(view.Balance),
		"currency":        view.Balance.Currency,
		"payoutAccountId": view.PayoutAccountID,
		"payoutsEnabled":  view.PayoutsEnabled,
		"chargesEnabled":  view.ChargesEnabled,
		"updatedAt":       timeJSON(view.UpdatedAt),
	})
}

func (h LedgerHandler) Rental(c *gin.Context) {
	view, err := queries.Ask[ledger.GetRentalQuery, ledger.RentalView](c.Request.Context(), h.Queries, ledger.GetRentalQuery{RentalID: c.Param("id")})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	body := gin.H{
		"rentalId":      view.RentalID,
		"ownerId":       view.OwnerID,
		"paymentStatus": view.PaymentStatus,
	}
	if view.PaymentIntentID != "" {
		body["paymentIntentId"] = view.PaymentIntentID
		body["paidAmount"] = amountJSON(view.PaidAmount)
		body["currency"] = view.PaidAmount.Currency
		body["paidAt"] = timeJSON(view.PaidAt)
	}
	c.JSON(http.StatusOK, body)
}

func (h LedgerHandler) Withdrawal(c *gin.Context) {
	view, err := queries.Ask[ledger.GetWithdrawalQuery, ledger.WithdrawalView](c.Request.Context(), h.Queries, ledger.GetWithdrawalQuery{WithdrawalID: c.Param("id")})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"withdrawalId":  view.WithdrawalID,
		"userId":        view.UserID,
		"amount":        amountJSON(view.Amount),
		"fee":           amountJSON(view.Fee),
		"total":         amountJSON(view.Total),
		"currency":      view.Amount.Currency,
		"destination":   view.Destination,
		"state":         view.State,
		"transferId":    view.TransferID,
		"failureReason": view.FailureReason,
		"createdAt":     timeJSON(view.CreatedAt),
		"updatedAt":     timeJSON(view.UpdatedAt),
	})
}

func timeJSON(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

var _ LedgerHTTP = LedgerHandler{}
