package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jordancrombie/nsim/internal/app/service/endpoints"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/response"
)

func ApiCreateEndpoint(svc *endpoints.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req endpoints.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func ApiListEndpoints(svc *endpoints.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := c.Query("merchant_id")
		if merchantID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "merchant_id is required"))
			return
		}
		list, err := svc.ListByMerchant(c.Request.Context(), merchantID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(list))
	}
}

func ApiUpdateEndpoint(svc *endpoints.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req endpoints.UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		ep, err := svc.Update(c.Request.Context(), c.Param("id"), &req)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "endpoint not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(ep))
	}
}

func ApiDeleteEndpoint(svc *endpoints.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "deleted"}))
	}
}

func ApiEndpointStats(svc *endpoints.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Stats(c.Request.Context(), c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "endpoint not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(stats))
	}
}

func RegisterEndpointRoutes(r gin.IRouter, svc *endpoints.Service) {
	r.POST("", ApiCreateEndpoint(svc))
	r.GET("", ApiListEndpoints(svc))
	r.PUT("/:id", ApiUpdateEndpoint(svc))
	r.DELETE("/:id", ApiDeleteEndpoint(svc))
	r.GET("/:id/stats", ApiEndpointStats(svc))
}
