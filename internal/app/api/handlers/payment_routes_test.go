package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/jordancrombie/nsim/internal/app/service/engine"
	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/types"
)

type fakeEngine struct {
	engine.Engine
	authorized *engine.AuthorizeRequest
	captureID  string
	captureAmt *int64
}

func (f *fakeEngine) Authorize(_ context.Context, req *engine.AuthorizeRequest) (*engine.OperationResult, error) {
	f.authorized = req
	return &engine.OperationResult{TransactionID: "tx-1", Status: types.TransactionStatusAuthorized, AuthorizationCode: "AUTH-1"}, nil
}

func (f *fakeEngine) Capture(_ context.Context, id string, amount *int64) (*engine.OperationResult, error) {
	f.captureID = id
	f.captureAmt = amount
	return &engine.OperationResult{TransactionID: id, Status: types.TransactionStatusCaptured}, nil
}

func (f *fakeEngine) GetTransaction(_ context.Context, id string) (*models.PaymentTransaction, error) {
	return nil, repository.ErrNotFound
}

func TestRegisterPaymentRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1/payments")
	RegisterPaymentRoutes(g, &fakeEngine{})

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}

	require.True(t, contains("POST /api/v1/payments/authorize"))
	require.True(t, contains("POST /api/v1/payments/:id/capture"))
	require.True(t, contains("POST /api/v1/payments/:id/void"))
	require.True(t, contains("POST /api/v1/payments/:id/refund"))
	require.True(t, contains("GET /api/v1/payments/:id"))
}

func TestApiAuthorize_RejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterPaymentRoutes(r.Group("/payments"), &fakeEngine{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payments/authorize", strings.NewReader(`{"merchant_id":"m1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":40000`)
}

func TestApiAuthorize_PassesRequestThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	eng := &fakeEngine{}
	r := gin.New()
	RegisterPaymentRoutes(r.Group("/payments"), eng)

	w := httptest.NewRecorder()
	body := `{"merchant_id":"m1","card_token":"ctok_x","order_id":"o1","amount":100}`
	req := httptest.NewRequest(http.MethodPost, "/payments/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":0`)
	require.Contains(t, w.Body.String(), `"transaction_id":"tx-1"`)
	require.NotNil(t, eng.authorized)
	require.Equal(t, "ctok_x", eng.authorized.CardToken)
}

func TestApiCapture_EmptyBodyMeansFullAmount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	eng := &fakeEngine{}
	r := gin.New()
	RegisterPaymentRoutes(r.Group("/payments"), eng)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payments/tx-9/capture", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "tx-9", eng.captureID)
	require.Nil(t, eng.captureAmt)
}

func TestApiGetTransaction_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterPaymentRoutes(r.Group("/payments"), &fakeEngine{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/missing", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":40000`)
	require.Contains(t, w.Body.String(), "transaction not found")
}
