package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/payments"
)

type PaymentsHandler struct {
	Commands commands.Bus
	Logger   *slog.Logger
}

type createIntentRequest struct {
	Amount   *decimal.Decimal `json:"amount"`
	UserID   string           `json:"userId"`
	RentalID string           `json:"rentalId"`
}

func (h PaymentsHandler) CreateIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Amount == nil {
		badRequest(c, "amount is required")
		return
	}
	cmd := payments.CreateIntentCommand{Amount: *req.Amount, UserID: req.UserID, RentalID: req.RentalID}
	result, err := commands.Dispatch[payments.CreateIntentCommand, payments.CreateIntentResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clientSecret": result.ClientSecret})
}

var _ PaymentsHTTP = PaymentsHandler{}
