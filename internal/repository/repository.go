package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/pkg/types"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned by conditional updates when the
	// transaction is no longer in the expected status. Callers racing on the
	// same transaction id observe this instead of losing updates.
	ErrStatusConflict = errors.New("transaction status conflict")
)

// TxUpdate carries the fields a transaction update may touch. Nil pointers
// are left unchanged.
type TxUpdate struct {
	Status            *types.TransactionStatus
	AuthorizationCode *string
	IssuerInstanceID  *string
	CapturedAmount    *int64
	RefundedAmount    *int64
	DeclineReason     *string
	ExpiresAt         *time.Time
}

// TransactionRepository is the persistence contract for payment transactions.
// UpdateWhereStatus must be atomic: the write only applies while the row still
// holds the expected status (optimistic check-and-set).
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.PaymentTransaction) error
	FindByID(ctx context.Context, id string) (*models.PaymentTransaction, error)
	FindByStatus(ctx context.Context, status types.TransactionStatus) ([]*models.PaymentTransaction, error)
	// FindExpiredAuthorizations returns authorized transactions whose expiry
	// is at or before now.
	FindExpiredAuthorizations(ctx context.Context, now time.Time) ([]*models.PaymentTransaction, error)
	// UpdateWhereStatus applies upd iff the row currently has the expected
	// status; returns ErrStatusConflict otherwise.
	UpdateWhereStatus(ctx context.Context, id string, expected types.TransactionStatus, upd TxUpdate) error
	Delete(ctx context.Context, id string) error
}

// EndpointStats summarizes delivery history for one endpoint.
type EndpointStats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// EndpointRepository manages merchant notification endpoints and their
// delivery history.
type EndpointRepository interface {
	Create(ctx context.Context, ep *models.NotificationEndpoint) error
	FindByID(ctx context.Context, id string) (*models.NotificationEndpoint, error)
	FindByMerchant(ctx context.Context, merchantID string) ([]*models.NotificationEndpoint, error)
	Update(ctx context.Context, ep *models.NotificationEndpoint) error
	Delete(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *models.NotificationDelivery) error
	GetStats(ctx context.Context, endpointID string) (*EndpointStats, error)
}

// JobQueue is the durable notification work queue. Enqueue deduplicates on
// the job id; Claim leases due jobs to a worker by flipping them to
// delivering so overlapping polls never hand out the same job twice.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.NotificationJob) error
	Claim(ctx context.Context, now time.Time, limit int) ([]*models.NotificationJob, error)
	MarkDelivered(ctx context.Context, id string) error
	// Reschedule records a failed attempt; when nextAttempt is nil the job is
	// marked permanently failed.
	Reschedule(ctx context.Context, id string, attempts int, lastError string, nextAttempt *time.Time) error
	// ResetInFlight flips delivering jobs back to pending. Run at worker
	// startup so leases orphaned by a crash or unclean shutdown are retried
	// instead of stranded.
	ResetInFlight(ctx context.Context) (int64, error)
}
