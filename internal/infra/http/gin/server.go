package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"rentledger/internal/infra/config"
	"rentledger/internal/infra/obs"
)

type PaymentsHTTP interface {
	CreateIntent(c *gin.Context)
}

type AccountsHTTP interface {
	Link(c *gin.Context)
}

type WithdrawalsHTTP interface {
	Withdraw(c *gin.Context)
}

type WebhookHTTP interface {
	Receive(c *gin.Context)
}

type LedgerHTTP interface {
	Balance(c *gin.Context)
	Rental(c *gin.Context)
	Withdrawal(c *gin.Context)
}

type Handlers struct {
	Payments    PaymentsHTTP
	Accounts    AccountsHTTP
	Withdrawals WithdrawalsHTTP
	Webhook     WebhookHTTP
	Ledger      LedgerHTTP
	Metrics     http.Handler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter registers the legacy root paths and their /api/v1 equivalents.
func NewRouter(obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "rentledger", "status": "ok"})
	})
	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := router.Group("/api/v1")
	if h.Payments != nil {
		router.POST("/create-payment-intent", h.Payments.CreateIntent)
		api.POST("/payments/intents", h.Payments.CreateIntent)
	}
	if h.Accounts != nil {
		router.POST("/create-account-link", h.Accounts.Link)
		api.POST("/accounts/link", h.Accounts.Link)
	}
	if h.Withdrawals != nil {
		router.POST("/withdraw", h.Withdrawals.Withdraw)
		api.POST("/withdrawals", h.Withdrawals.Withdraw)
	}
	if h.Webhook != nil {
		router.POST("/webhook", h.Webhook.Receive)
	}
	if h.Ledger != nil {
		api.GET("/users/:id/balance", h.Ledger.Balance)
		api.GET("/rentals/:id", h.Ledger.Rental)
		api.GET("/withdrawals/:id", h.Ledger.Withdrawal)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
