package engine

import (
	"context"

	"github.com/jordancrombie/nsim/internal/app/service/notification"
	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/pkg/types"
)

// AuthorizeRequest carries everything needed to place an authorization hold.
type AuthorizeRequest struct {
	MerchantID   string            `json:"merchant_id"`
	MerchantName string            `json:"merchant_name,omitempty"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency,omitempty"`
	CardToken    string            `json:"card_token"`
	OrderID      string            `json:"order_id"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// OperationResult is the typed outcome every engine operation returns. The
// resulting status must be inspected by callers: an operation invoked in the
// wrong precondition state comes back with the transaction's current status
// unchanged rather than an error, which is what makes retried calls
// idempotent by observation.
type OperationResult struct {
	TransactionID     string                  `json:"transaction_id"`
	Status            types.TransactionStatus `json:"status"`
	Reason            string                  `json:"reason,omitempty"`
	AuthorizationCode string                  `json:"authorization_code,omitempty"`
	CapturedAmount    int64                   `json:"captured_amount,omitempty"`
	RefundedAmount    int64                   `json:"refunded_amount,omitempty"`
	RefundID          string                  `json:"refund_id,omitempty"`
}

// TokenValidationResult is the outcome of a token diagnostic check.
type TokenValidationResult struct {
	Valid            bool   `json:"valid"`
	IssuerInstanceID string `json:"issuer_instance_id"`
	WalletOriginated bool   `json:"wallet_originated"`
}

// Notifier is the outbound event contract consumed by the engine. Raising is
// best-effort: errors are logged and counted, never surfaced to the payment
// caller.
type Notifier interface {
	Raise(ctx context.Context, ev *notification.Event) error
}

// Engine orchestrates the payment state machine against issuer backends.
type Engine interface {
	// Authorize creates a transaction and places a hold at the issuer the
	// token routes to.
	Authorize(ctx context.Context, req *AuthorizeRequest) (*OperationResult, error)
	// Capture settles an authorized transaction; amount nil means the full
	// authorized amount.
	Capture(ctx context.Context, transactionID string, amount *int64) (*OperationResult, error)
	// Void releases an authorization hold.
	Void(ctx context.Context, transactionID string, reason string) (*OperationResult, error)
	// Refund returns captured funds; amount nil means the remaining
	// refundable balance. Repeated partial refunds accumulate.
	Refund(ctx context.Context, transactionID string, amount *int64, reason string) (*OperationResult, error)
	// GetTransaction returns the stored transaction.
	GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)
	// ExpireAuthorization is invoked by the expiry monitor for authorized
	// transactions past their expiry.
	ExpireAuthorization(ctx context.Context, transactionID string) (*OperationResult, error)
	// ValidateToken routes a token and asks the issuer whether it is valid.
	ValidateToken(ctx context.Context, cardToken string) (*TokenValidationResult, error)
}
