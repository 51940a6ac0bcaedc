package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jordancrombie/nsim/internal/app/service/issuer"
	"github.com/jordancrombie/nsim/internal/app/service/notification"
	"github.com/jordancrombie/nsim/internal/app/service/routing"
	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/config"
	"github.com/jordancrombie/nsim/pkg/tool"
	"github.com/jordancrombie/nsim/pkg/types"
)

// networkErrorReason is recorded when the issuer could not be reached or
// kept failing past the retry budget.
const networkErrorReason = "Network error"

var operationCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "nsim",
		Name:      "transactions_total",
		Help:      "Payment operations, partitioned by operation and resulting status.",
	},
	[]string{"operation", "status"},
)

func init() {
	prometheus.MustRegister(operationCounter)
}

// Service owns the payment state machine. All collaborators are injected;
// no globals.
type Service struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	txRepo   repository.TransactionRepository
	registry *routing.Registry
	router   *routing.Router
	notifier Notifier
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, txRepo repository.TransactionRepository, registry *routing.Registry, router *routing.Router, notifier Notifier) Engine {
	return &Service{
		cfg:      cfg,
		log:      log,
		txRepo:   txRepo,
		registry: registry,
		router:   router,
		notifier: notifier,
	}
}

func (s *Service) Authorize(ctx context.Context, req *AuthorizeRequest) (*OperationResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Payment.DefaultCurrency
	}
	merchantName := req.MerchantName
	if merchantName == "" {
		merchantName = req.MerchantID
	}

	tx := &models.PaymentTransaction{
		ID:           tool.GenerateUUIDV7(),
		MerchantID:   req.MerchantID,
		MerchantName: merchantName,
		OrderID:      req.OrderID,
		CardToken:    req.CardToken,
		Amount:       req.Amount,
		Currency:     currency,
		Status:       types.TransactionStatusPending,
		Description:  req.Description,
		Metadata:     datatypes.NewJSONType(req.Metadata),
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, err
	}

	gw, route := s.registry.GatewayForToken(s.router, req.CardToken)
	s.log.Infow("authorize routed",
		"transaction_id", tx.ID,
		"issuer_id", gw.InstanceID(),
		"wallet_originated", route.WalletOriginated,
		"amount", req.Amount,
		"currency", currency,
	)

	res := gw.Authorize(ctx, &issuer.AuthorizeRequest{
		CardToken:    req.CardToken,
		Amount:       req.Amount,
		Currency:     currency,
		MerchantID:   req.MerchantID,
		MerchantName: merchantName,
		OrderID:      req.OrderID,
		Description:  req.Description,
	})

	switch {
	case res.Approved():
		expiresAt := time.Now().UTC().Add(s.cfg.AuthLifetime())
		instanceID := gw.InstanceID()
		if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusPending, repository.TxUpdate{
			Status:            ptr(types.TransactionStatusAuthorized),
			AuthorizationCode: &res.AuthorizationCode,
			IssuerInstanceID:  &instanceID,
			ExpiresAt:         &expiresAt,
		}); err != nil {
			return nil, err
		}
		s.raise(ctx, &notification.Event{
			EventID:           uuid.NewString(),
			Type:              types.EventPaymentAuthorized,
			MerchantID:        tx.MerchantID,
			TransactionID:     tx.ID,
			OrderID:           tx.OrderID,
			Amount:            tx.Amount,
			Currency:          currency,
			Status:            types.TransactionStatusAuthorized,
			AuthorizationCode: res.AuthorizationCode,
		})
		operationCounter.WithLabelValues("authorize", string(types.TransactionStatusAuthorized)).Inc()
		return &OperationResult{
			TransactionID:     tx.ID,
			Status:            types.TransactionStatusAuthorized,
			AuthorizationCode: res.AuthorizationCode,
		}, nil

	case res.Declined():
		if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusPending, repository.TxUpdate{
			Status:        ptr(types.TransactionStatusDeclined),
			DeclineReason: &res.DeclineReason,
		}); err != nil {
			return nil, err
		}
		s.raise(ctx, &notification.Event{
			EventID:       uuid.NewString(),
			Type:          types.EventPaymentDeclined,
			MerchantID:    tx.MerchantID,
			TransactionID: tx.ID,
			OrderID:       tx.OrderID,
			Amount:        tx.Amount,
			Currency:      currency,
			Status:        types.TransactionStatusDeclined,
			DeclineReason: res.DeclineReason,
		})
		operationCounter.WithLabelValues("authorize", string(types.TransactionStatusDeclined)).Inc()
		return &OperationResult{
			TransactionID: tx.ID,
			Status:        types.TransactionStatusDeclined,
			Reason:        res.DeclineReason,
		}, nil

	default:
		reason := networkErrorReason
		if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusPending, repository.TxUpdate{
			Status:        ptr(types.TransactionStatusFailed),
			DeclineReason: &reason,
		}); err != nil {
			return nil, err
		}
		s.raise(ctx, &notification.Event{
			EventID:       uuid.NewString(),
			Type:          types.EventPaymentFailed,
			MerchantID:    tx.MerchantID,
			TransactionID: tx.ID,
			OrderID:       tx.OrderID,
			Amount:        tx.Amount,
			Currency:      currency,
			Status:        types.TransactionStatusFailed,
			DeclineReason: reason,
		})
		operationCounter.WithLabelValues("authorize", string(types.TransactionStatusFailed)).Inc()
		return &OperationResult{
			TransactionID: tx.ID,
			Status:        types.TransactionStatusFailed,
			Reason:        reason,
		}, nil
	}
}

func (s *Service) Capture(ctx context.Context, transactionID string, amount *int64) (*OperationResult, error) {
	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != types.TransactionStatusAuthorized {
		// Wrong-state capture is not an error: report the current status so
		// retried calls can observe what already happened.
		return currentState(tx), nil
	}

	amt := tx.Amount
	if amount != nil {
		amt = *amount
	}
	if amt <= 0 || amt > tx.Amount {
		res := currentState(tx)
		res.Reason = "invalid capture amount"
		return res, nil
	}

	gw := s.registry.GatewayForInstance(tx.IssuerInstanceID)
	res := gw.Capture(ctx, tx.AuthorizationCode, amt)
	if !res.Success {
		return s.markFailed(ctx, tx, "capture", res.Error)
	}

	if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusAuthorized, repository.TxUpdate{
		Status:         ptr(types.TransactionStatusCaptured),
		CapturedAmount: &amt,
	}); err != nil {
		if err == repository.ErrStatusConflict {
			return s.refreshState(ctx, tx.ID)
		}
		return nil, err
	}

	s.raise(ctx, &notification.Event{
		EventID:        uuid.NewString(),
		Type:           types.EventPaymentCaptured,
		MerchantID:     tx.MerchantID,
		TransactionID:  tx.ID,
		OrderID:        tx.OrderID,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Status:         types.TransactionStatusCaptured,
		CapturedAmount: amt,
	})
	operationCounter.WithLabelValues("capture", string(types.TransactionStatusCaptured)).Inc()
	return &OperationResult{
		TransactionID:  tx.ID,
		Status:         types.TransactionStatusCaptured,
		CapturedAmount: amt,
	}, nil
}

func (s *Service) Void(ctx context.Context, transactionID string, reason string) (*OperationResult, error) {
	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != types.TransactionStatusAuthorized {
		return currentState(tx), nil
	}

	gw := s.registry.GatewayForInstance(tx.IssuerInstanceID)
	res := gw.Void(ctx, tx.AuthorizationCode)
	if !res.Success {
		return s.markFailed(ctx, tx, "void", res.Error)
	}

	if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusAuthorized, repository.TxUpdate{
		Status: ptr(types.TransactionStatusVoided),
	}); err != nil {
		if err == repository.ErrStatusConflict {
			return s.refreshState(ctx, tx.ID)
		}
		return nil, err
	}

	s.raise(ctx, &notification.Event{
		EventID:       uuid.NewString(),
		Type:          types.EventPaymentVoided,
		MerchantID:    tx.MerchantID,
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        types.TransactionStatusVoided,
	})
	operationCounter.WithLabelValues("void", string(types.TransactionStatusVoided)).Inc()
	return &OperationResult{TransactionID: tx.ID, Status: types.TransactionStatusVoided}, nil
}

func (s *Service) Refund(ctx context.Context, transactionID string, amount *int64, reason string) (*OperationResult, error) {
	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != types.TransactionStatusCaptured {
		return currentState(tx), nil
	}

	remaining := tx.RemainingRefundable()
	amt := remaining
	if amount != nil {
		amt = *amount
	}
	if amt <= 0 || amt > remaining {
		res := currentState(tx)
		res.Reason = "invalid refund amount"
		return res, nil
	}

	gw := s.registry.GatewayForInstance(tx.IssuerInstanceID)
	res := gw.Refund(ctx, tx.AuthorizationCode, amt)
	if !res.Success {
		// Refund failure mutates nothing and raises no event; the caller
		// sees the failure reason against the unchanged transaction.
		operationCounter.WithLabelValues("refund", "failed_attempt").Inc()
		out := currentState(tx)
		out.Reason = res.Error
		return out, nil
	}

	newRefunded := tx.RefundedAmount + amt
	newStatus := types.TransactionStatusCaptured
	if newRefunded >= tx.CapturedAmount {
		newStatus = types.TransactionStatusRefunded
	}
	if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusCaptured, repository.TxUpdate{
		Status:         &newStatus,
		RefundedAmount: &newRefunded,
	}); err != nil {
		if err == repository.ErrStatusConflict {
			return s.refreshState(ctx, tx.ID)
		}
		return nil, err
	}

	// A fresh refund id correlates this refund, not the transaction.
	refundID := uuid.NewString()
	s.raise(ctx, &notification.Event{
		EventID:        uuid.NewString(),
		Type:           types.EventPaymentRefunded,
		MerchantID:     tx.MerchantID,
		TransactionID:  tx.ID,
		OrderID:        tx.OrderID,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Status:         newStatus,
		CapturedAmount: tx.CapturedAmount,
		RefundedAmount: newRefunded,
		RefundID:       refundID,
		RefundAmount:   amt,
	})
	operationCounter.WithLabelValues("refund", string(newStatus)).Inc()
	return &OperationResult{
		TransactionID:  tx.ID,
		Status:         newStatus,
		CapturedAmount: tx.CapturedAmount,
		RefundedAmount: newRefunded,
		RefundID:       refundID,
	}, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	return s.txRepo.FindByID(ctx, transactionID)
}

func (s *Service) ExpireAuthorization(ctx context.Context, transactionID string) (*OperationResult, error) {
	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != types.TransactionStatusAuthorized {
		return currentState(tx), nil
	}

	// Best-effort release at the issuer; the local transition happens either
	// way so holds never outlive their expiry on our side.
	gw := s.registry.GatewayForInstance(tx.IssuerInstanceID)
	if res := gw.Void(ctx, tx.AuthorizationCode); !res.Success {
		s.log.Warnw("best-effort void at issuer failed during expiry",
			"transaction_id", tx.ID, "issuer_id", tx.IssuerInstanceID, "err", res.Error)
	}

	if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, types.TransactionStatusAuthorized, repository.TxUpdate{
		Status: ptr(types.TransactionStatusExpired),
	}); err != nil {
		if err == repository.ErrStatusConflict {
			return s.refreshState(ctx, tx.ID)
		}
		return nil, err
	}

	s.raise(ctx, &notification.Event{
		EventID:       uuid.NewString(),
		Type:          types.EventPaymentExpired,
		MerchantID:    tx.MerchantID,
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        types.TransactionStatusExpired,
	})
	operationCounter.WithLabelValues("expire", string(types.TransactionStatusExpired)).Inc()
	return &OperationResult{TransactionID: tx.ID, Status: types.TransactionStatusExpired}, nil
}

func (s *Service) ValidateToken(ctx context.Context, cardToken string) (*TokenValidationResult, error) {
	gw, route := s.registry.GatewayForToken(s.router, cardToken)
	res, err := gw.ValidateToken(ctx, cardToken)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	return &TokenValidationResult{
		Valid:            res.Valid,
		IssuerInstanceID: gw.InstanceID(),
		WalletOriginated: route.WalletOriginated,
	}, nil
}

// markFailed records an issuer failure on capture/void. No notification is
// raised for these; merchants only learn about successful transitions and
// authorize-time failures.
func (s *Service) markFailed(ctx context.Context, tx *models.PaymentTransaction, op string, errMsg string) (*OperationResult, error) {
	reason := errMsg
	if reason == "" {
		reason = networkErrorReason
	}
	if err := s.txRepo.UpdateWhereStatus(ctx, tx.ID, tx.Status, repository.TxUpdate{
		Status:        ptr(types.TransactionStatusFailed),
		DeclineReason: &reason,
	}); err != nil {
		if err == repository.ErrStatusConflict {
			return s.refreshState(ctx, tx.ID)
		}
		return nil, err
	}
	operationCounter.WithLabelValues(op, string(types.TransactionStatusFailed)).Inc()
	return &OperationResult{
		TransactionID: tx.ID,
		Status:        types.TransactionStatusFailed,
		Reason:        reason,
	}, nil
}

// refreshState re-reads the transaction after a lost conditional update and
// reports whatever the winning writer left behind.
func (s *Service) refreshState(ctx context.Context, id string) (*OperationResult, error) {
	tx, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return currentState(tx), nil
}

func (s *Service) raise(ctx context.Context, ev *notification.Event) {
	if err := s.notifier.Raise(ctx, ev); err != nil {
		s.log.Errorw("failed to raise notification",
			"event_type", ev.Type, "transaction_id", ev.TransactionID, "err", err)
	}
}

func currentState(tx *models.PaymentTransaction) *OperationResult {
	return &OperationResult{
		TransactionID:     tx.ID,
		Status:            tx.Status,
		Reason:            tx.DeclineReason,
		AuthorizationCode: tx.AuthorizationCode,
		CapturedAmount:    tx.CapturedAmount,
		RefundedAmount:    tx.RefundedAmount,
	}
}

func ptr[T any](v T) *T { return &v }
