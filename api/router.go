// Package api exposes the withdrawal flow and custodial accounts over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go/wallet"
	"github.com/marwen-abid/offramp-go/withdraw"
)

// SetupRouter sets up the Gin router. creator may be nil when no funder account is
// configured.
func SetupRouter(orch *withdraw.Orchestrator, creator *wallet.Creator, logger logrus.FieldLogger) *gin.Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	withdrawals := NewWithdrawalHandlers(orch)
	accounts := NewAccountHandlers(creator)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := router.Group("/withdrawals")
	{
		w.POST("", withdrawals.Create)
		w.POST("/sync", withdrawals.CreateSync)
		w.GET("", withdrawals.List)
		w.GET("/:id", withdrawals.Get)
		w.GET("/:id/status", withdrawals.Status)
		w.POST("/:id/remit", withdrawals.Remit)
	}

	a := router.Group("/accounts")
	{
		a.POST("", accounts.Create)
		a.GET("/:id/balances", accounts.Balances)
	}

	return router
}
