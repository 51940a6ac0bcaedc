package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jordancrombie/nsim/internal/app/service/engine"
	"github.com/jordancrombie/nsim/internal/app/service/routing"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/response"
)

type inspectTokenRequest struct {
	CardToken string `json:"card_token"`
}

type inspectTokenResponse struct {
	ResolvedInstanceID string `json:"resolved_instance_id"`
	WalletOriginated   bool   `json:"wallet_originated"`
	DefaultInstanceID  string `json:"default_instance_id"`
}

// ApiInspectToken shows how a token would route without calling any issuer.
// Debug-only; it never echoes the full token back.
func ApiInspectToken(router *routing.Router, registry *routing.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req inspectTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.CardToken == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "card_token is required"))
			return
		}
		route := router.Resolve(req.CardToken)
		c.JSON(http.StatusOK, response.OKT(inspectTokenResponse{
			ResolvedInstanceID: route.InstanceID,
			WalletOriginated:   route.WalletOriginated,
			DefaultInstanceID:  registry.DefaultID(),
		}))
	}
}

// ApiValidateToken routes the token and asks the issuer whether it is valid.
func ApiValidateToken(eng engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req inspectTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.CardToken == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "card_token is required"))
			return
		}
		res, err := eng.ValidateToken(c.Request.Context(), req.CardToken)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// ApiScanTransactions serves filtered admin listing pages.
func ApiScanTransactions(scanner repository.TransactionScanner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req repository.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := scanner.ScanTransactions(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterDebugRoutes(r gin.IRouter, router *routing.Router, registry *routing.Registry, eng engine.Engine, scanner repository.TransactionScanner) {
	r.POST("/token/inspect", ApiInspectToken(router, registry))
	r.POST("/token/validate", ApiValidateToken(eng))
	r.POST("/transactions/scan", ApiScanTransactions(scanner))
}
