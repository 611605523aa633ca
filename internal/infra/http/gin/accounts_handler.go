package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/accounts"
)

type AccountsHandler struct {
	Commands commands.Bus
	Logger   *slog.Logger
}

type linkAccountRequest struct {
	UserID string `json:"userId"`
}

func (h AccountsHandler) Link(c *gin.Context) {
	var req linkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	cmd := accounts.LinkAccountCommand{UserID: req.UserID}
	result, err := commands.Dispatch[accounts.LinkAccountCommand, accounts.LinkAccountResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": result.URL})
}

var _ AccountsHTTP = AccountsHandler{}
