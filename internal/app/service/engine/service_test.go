package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jordancrombie/nsim/internal/app/service/issuer"
	"github.com/jordancrombie/nsim/internal/app/service/notification"
	"github.com/jordancrombie/nsim/internal/app/service/routing"
	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/config"
	"github.com/jordancrombie/nsim/pkg/types"
)

// issuerStub is a fake issuer backend. It approves everything except tokens
// it was told to decline, and can be flipped to fail individual operations.
type issuerStub struct {
	srv *httptest.Server

	authorizeCalls int32
	captureCalls   int32
	voidCalls      int32
	refundCalls    int32

	declineTokens map[string]string
	failAuthorize bool
	refuseCapture string
	refuseRefund  string
	refuseVoid    string
}

func newIssuerStub(t *testing.T) *issuerStub {
	t.Helper()
	s := &issuerStub{declineTokens: map[string]string{}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/payment-network/authorize":
			atomic.AddInt32(&s.authorizeCalls, 1)
			if s.failAuthorize {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			var req issuer.AuthorizeRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if reason, ok := s.declineTokens[req.CardToken]; ok {
				_ = json.NewEncoder(w).Encode(issuer.AuthorizeResult{Status: issuer.StatusDeclined, DeclineReason: reason})
				return
			}
			_ = json.NewEncoder(w).Encode(issuer.AuthorizeResult{Status: issuer.StatusApproved, AuthorizationCode: "AUTH-123"})
		case "/api/payment-network/capture":
			atomic.AddInt32(&s.captureCalls, 1)
			_ = json.NewEncoder(w).Encode(issuer.OperationResult{Success: s.refuseCapture == "", Error: s.refuseCapture})
		case "/api/payment-network/void":
			atomic.AddInt32(&s.voidCalls, 1)
			_ = json.NewEncoder(w).Encode(issuer.OperationResult{Success: s.refuseVoid == "", Error: s.refuseVoid})
		case "/api/payment-network/refund":
			atomic.AddInt32(&s.refundCalls, 1)
			_ = json.NewEncoder(w).Encode(issuer.OperationResult{Success: s.refuseRefund == "", Error: s.refuseRefund})
		case "/api/payment-network/validate-token":
			_ = json.NewEncoder(w).Encode(issuer.ValidateTokenResult{Valid: true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

type testEnv struct {
	eng    Engine
	txRepo *repository.MemoryTransactionRepository
	queue  *repository.MemoryJobQueue
	stub   *issuerStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stub := newIssuerStub(t)

	cfg := &config.Config{
		Issuers: []*config.IssuerProviderConfig{
			{ID: "default", Name: "Default Bank", BaseURL: stub.srv.URL, APIKey: "k1"},
			{ID: "newbank", Name: "New Bank", BaseURL: stub.srv.URL, APIKey: "k2"},
		},
	}
	cfg.Payment.DefaultCurrency = "CAD"
	cfg.Payment.AuthLifetimeHours = 168
	cfg.Payment.DefaultIssuerID = "default"
	cfg.Issuer.MaxRetries = 0
	cfg.Issuer.RetryBaseDelayMS = 1
	cfg.Issuer.TimeoutSeconds = 2

	log := zap.NewNop().Sugar()
	txRepo := repository.NewMemoryTransactionRepository()
	epRepo := repository.NewMemoryEndpointRepository()
	queue := repository.NewMemoryJobQueue()

	// One endpoint subscribed to every event so each raise lands in the queue.
	events := make([]string, 0, len(types.AllEventTypes))
	for _, e := range types.AllEventTypes {
		events = append(events, string(e))
	}
	require.NoError(t, epRepo.Create(context.Background(), &models.NotificationEndpoint{
		ID:         "ep-1",
		MerchantID: "m1",
		URL:        "https://merchant.test/hooks",
		Events:     datatypes.NewJSONType(events),
		Secret:     "whsec_test",
		Active:     true,
	}))

	dispatcher := notification.NewDispatcher(epRepo, queue, log)
	eng := NewService(cfg, log, txRepo, routing.NewRegistry(cfg, log), routing.NewRouter(), dispatcher)
	return &testEnv{eng: eng, txRepo: txRepo, queue: queue, stub: stub}
}

func (e *testEnv) jobsOfType(eventType types.EventType) []*models.NotificationJob {
	var out []*models.NotificationJob
	for _, j := range e.queue.Jobs() {
		if j.EventType == string(eventType) {
			out = append(out, j)
		}
	}
	return out
}

func (e *testEnv) authorize(t *testing.T, token string, amount int64) *OperationResult {
	t.Helper()
	res, err := e.eng.Authorize(context.Background(), &AuthorizeRequest{
		MerchantID: "m1",
		Amount:     amount,
		Currency:   "CAD",
		CardToken:  token,
		OrderID:    "o1",
	})
	require.NoError(t, err)
	return res
}

func TestAuthorize_Approved(t *testing.T) {
	env := newTestEnv(t)

	res := env.authorize(t, "ctok_valid_token_123", 100)
	require.Equal(t, types.TransactionStatusAuthorized, res.Status)
	require.NotEmpty(t, res.AuthorizationCode)

	tx, err := env.txRepo.FindByID(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusAuthorized, tx.Status)
	require.Equal(t, "default", tx.IssuerInstanceID)
	require.NotNil(t, tx.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(168*time.Hour), *tx.ExpiresAt, time.Minute)

	require.Len(t, env.jobsOfType(types.EventPaymentAuthorized), 1)
}

func TestAuthorize_Declined(t *testing.T) {
	env := newTestEnv(t)
	env.stub.declineTokens["ctok_invalid_token"] = "Invalid card token"

	res := env.authorize(t, "ctok_invalid_token", 100)
	require.Equal(t, types.TransactionStatusDeclined, res.Status)
	require.Equal(t, "Invalid card token", res.Reason)

	tx, err := env.txRepo.FindByID(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "Invalid card token", tx.DeclineReason)
	require.Nil(t, tx.ExpiresAt)

	require.Len(t, env.jobsOfType(types.EventPaymentDeclined), 1)
}

func TestAuthorize_NetworkFailure(t *testing.T) {
	env := newTestEnv(t)
	env.stub.failAuthorize = true

	res := env.authorize(t, "ctok_x", 100)
	require.Equal(t, types.TransactionStatusFailed, res.Status)
	require.Equal(t, "Network error", res.Reason)
	require.Len(t, env.jobsOfType(types.EventPaymentFailed), 1)
}

func TestAuthorize_CurrencyDefaultsFromConfig(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.eng.Authorize(context.Background(), &AuthorizeRequest{
		MerchantID: "m1", Amount: 50, CardToken: "ctok_x", OrderID: "o2",
	})
	require.NoError(t, err)

	tx, err := env.txRepo.FindByID(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "CAD", tx.Currency)
}

func TestAuthorize_WalletTokenRoutesToEmbeddedIssuer(t *testing.T) {
	env := newTestEnv(t)

	res := env.authorize(t, "wsim_newbank_abc123", 100)
	require.Equal(t, types.TransactionStatusAuthorized, res.Status)

	tx, err := env.txRepo.FindByID(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "newbank", tx.IssuerInstanceID)
}

func TestCapture_DefaultsToFullAmountAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)

	res, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, res.Status)
	require.EqualValues(t, 100, res.CapturedAmount)
	require.EqualValues(t, 1, atomic.LoadInt32(&env.stub.captureCalls))

	// Retried capture observes the current state; no second issuer call.
	res2, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, res2.Status)
	require.EqualValues(t, 100, res2.CapturedAmount)
	require.EqualValues(t, 1, atomic.LoadInt32(&env.stub.captureCalls))

	require.Len(t, env.jobsOfType(types.EventPaymentCaptured), 1)
}

func TestCapture_RejectsAmountOverAuthorized(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)

	amt := int64(150)
	res, err := env.eng.Capture(context.Background(), auth.TransactionID, &amt)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusAuthorized, res.Status)
	require.Equal(t, "invalid capture amount", res.Reason)
	require.EqualValues(t, 0, atomic.LoadInt32(&env.stub.captureCalls))
}

func TestCapture_IssuerFailureMarksFailedWithoutNotification(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	env.stub.refuseCapture = "hold already released"

	res, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusFailed, res.Status)
	require.Equal(t, "hold already released", res.Reason)

	require.Empty(t, env.jobsOfType(types.EventPaymentCaptured))
	// payment.failed is reserved for authorize-time failures.
	require.Empty(t, env.jobsOfType(types.EventPaymentFailed))
}

func TestVoid_TransitionsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)

	res, err := env.eng.Void(context.Background(), auth.TransactionID, "customer cancelled")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusVoided, res.Status)
	require.Len(t, env.jobsOfType(types.EventPaymentVoided), 1)

	res2, err := env.eng.Void(context.Background(), auth.TransactionID, "again")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusVoided, res2.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&env.stub.voidCalls))
}

func TestRefund_PartialRefundsAccumulate(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	_, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)

	amt := int64(40)
	res, err := env.eng.Refund(context.Background(), auth.TransactionID, &amt, "")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, res.Status)
	require.EqualValues(t, 40, res.RefundedAmount)
	require.NotEmpty(t, res.RefundID)

	amt = 60
	res2, err := env.eng.Refund(context.Background(), auth.TransactionID, &amt, "")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusRefunded, res2.Status)
	require.EqualValues(t, 100, res2.RefundedAmount)
	require.NotEqual(t, res.RefundID, res2.RefundID)

	refundJobs := env.jobsOfType(types.EventPaymentRefunded)
	require.Len(t, refundJobs, 2)
}

func TestRefund_DefaultsToRemainingBalance(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	_, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)

	amt := int64(30)
	_, err = env.eng.Refund(context.Background(), auth.TransactionID, &amt, "")
	require.NoError(t, err)

	res, err := env.eng.Refund(context.Background(), auth.TransactionID, nil, "")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusRefunded, res.Status)
	require.EqualValues(t, 100, res.RefundedAmount)
}

func TestRefund_OverRemainingBalanceRejectedLocally(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	_, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)

	amt := int64(150)
	res, err := env.eng.Refund(context.Background(), auth.TransactionID, &amt, "")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, res.Status)
	require.Equal(t, "invalid refund amount", res.Reason)
	require.EqualValues(t, 0, atomic.LoadInt32(&env.stub.refundCalls))
}

func TestRefund_IssuerFailureMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	_, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)
	env.stub.refuseRefund = "settlement window closed"

	amt := int64(40)
	res, err := env.eng.Refund(context.Background(), auth.TransactionID, &amt, "")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, res.Status)
	require.Equal(t, "settlement window closed", res.Reason)

	tx, err := env.txRepo.FindByID(context.Background(), auth.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, tx.Status)
	require.EqualValues(t, 0, tx.RefundedAmount)
	require.Empty(t, env.jobsOfType(types.EventPaymentRefunded))
}

func TestRefund_WrongStateReturnsCurrentStatus(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)

	// Still authorized, never captured.
	res, err := env.eng.Refund(context.Background(), auth.TransactionID, nil, "")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusAuthorized, res.Status)
	require.EqualValues(t, 0, atomic.LoadInt32(&env.stub.refundCalls))
}

func TestExpireAuthorization_BestEffortVoidAndLocalTransition(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	// Issuer-side void failing must not stop the local transition.
	env.stub.refuseVoid = "unknown authorization"

	res, err := env.eng.ExpireAuthorization(context.Background(), auth.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusExpired, res.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&env.stub.voidCalls))
	require.Len(t, env.jobsOfType(types.EventPaymentExpired), 1)
}

func TestExpireAuthorization_SkipsNonAuthorized(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)
	_, err := env.eng.Capture(context.Background(), auth.TransactionID, nil)
	require.NoError(t, err)

	res, err := env.eng.ExpireAuthorization(context.Background(), auth.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, res.Status)
	require.Empty(t, env.jobsOfType(types.EventPaymentExpired))
}

func TestGetTransaction_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.GetTransaction(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInvariants_CapturedAndRefundedBounds(t *testing.T) {
	env := newTestEnv(t)
	auth := env.authorize(t, "ctok_x", 100)

	amt := int64(80)
	_, err := env.eng.Capture(context.Background(), auth.TransactionID, &amt)
	require.NoError(t, err)

	refund := int64(50)
	_, err = env.eng.Refund(context.Background(), auth.TransactionID, &refund, "")
	require.NoError(t, err)

	tx, err := env.txRepo.FindByID(context.Background(), auth.TransactionID)
	require.NoError(t, err)
	require.True(t, tx.CapturedAmount >= 0 && tx.CapturedAmount <= tx.Amount)
	require.True(t, tx.RefundedAmount >= 0 && tx.RefundedAmount <= tx.CapturedAmount)
}

func TestValidateToken(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.eng.ValidateToken(context.Background(), "wsim_newbank_abc")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, "newbank", res.IssuerInstanceID)
	require.True(t, res.WalletOriginated)
}
