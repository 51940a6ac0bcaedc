package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jordancrombie/nsim/internal/app/service/engine"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/response"
)

type captureBody struct {
	Amount *int64 `json:"amount,omitempty"`
}

type voidBody struct {
	Reason string `json:"reason,omitempty"`
}

type refundBody struct {
	Amount *int64 `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func ApiAuthorize(eng engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.AuthorizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.MerchantID == "" || req.CardToken == "" || req.OrderID == "" || req.Amount <= 0 {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "merchant_id, card_token, order_id and a positive amount are required"))
			return
		}

		res, err := eng.Authorize(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func ApiCapture(eng engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body captureBody
		if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := eng.Capture(c.Request.Context(), c.Param("id"), body.Amount)
		writeOperationResult(c, res, err)
	}
}

func ApiVoid(eng engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body voidBody
		if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := eng.Void(c.Request.Context(), c.Param("id"), body.Reason)
		writeOperationResult(c, res, err)
	}
}

func ApiRefund(eng engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body refundBody
		if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := eng.Refund(c.Request.Context(), c.Param("id"), body.Amount, body.Reason)
		writeOperationResult(c, res, err)
	}
}

func ApiGetTransaction(eng engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := eng.GetTransaction(c.Request.Context(), c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "transaction not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(tx))
	}
}

func writeOperationResult(c *gin.Context, res *engine.OperationResult, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "transaction not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

func RegisterPaymentRoutes(r gin.IRouter, eng engine.Engine) {
	r.POST("/authorize", ApiAuthorize(eng))
	r.POST("/:id/capture", ApiCapture(eng))
	r.POST("/:id/void", ApiVoid(eng))
	r.POST("/:id/refund", ApiRefund(eng))
	r.GET("/:id", ApiGetTransaction(eng))
}
