package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/pkg/types"
)

// GormTransactionRepository backs TransactionRepository with postgres via GORM.
type GormTransactionRepository struct {
	db *gorm.DB
}

func NewGormTransactionRepository(db *gorm.DB) TransactionRepository {
	return &GormTransactionRepository{db: db}
}

func (r *GormTransactionRepository) Create(ctx context.Context, tx *models.PaymentTransaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *GormTransactionRepository) FindByID(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	var row models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &row, nil
}

func (r *GormTransactionRepository) FindByStatus(ctx context.Context, status types.TransactionStatus) ([]*models.PaymentTransaction, error) {
	var rows []*models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions by status: %w", err)
	}
	return rows, nil
}

func (r *GormTransactionRepository) FindExpiredAuthorizations(ctx context.Context, now time.Time) ([]*models.PaymentTransaction, error) {
	var rows []*models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", types.TransactionStatusAuthorized, now).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired authorizations: %w", err)
	}
	return rows, nil
}

func (r *GormTransactionRepository) UpdateWhereStatus(ctx context.Context, id string, expected types.TransactionStatus, upd TxUpdate) error {
	fields := map[string]any{}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.AuthorizationCode != nil {
		fields["authorization_code"] = *upd.AuthorizationCode
	}
	if upd.IssuerInstanceID != nil {
		fields["issuer_instance_id"] = *upd.IssuerInstanceID
	}
	if upd.CapturedAmount != nil {
		fields["captured_amount"] = *upd.CapturedAmount
	}
	if upd.RefundedAmount != nil {
		fields["refunded_amount"] = *upd.RefundedAmount
	}
	if upd.DeclineReason != nil {
		fields["decline_reason"] = *upd.DeclineReason
	}
	if upd.ExpiresAt != nil {
		fields["expires_at"] = *upd.ExpiresAt
	}
	if len(fields) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the row is gone or another writer moved it first.
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *GormTransactionRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PaymentTransaction{}).Error; err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// filtersAnd combines multiple CommonFilter into a single expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanRequest is a paginated, filtered admin listing request.
type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.PaymentTransaction `json:"items"`
	Total int64                        `json:"total"`
}

// TransactionScanner serves admin listing pages.
type TransactionScanner interface {
	ScanTransactions(ctx context.Context, req *ScanRequest) (*ScanResponse, error)
}

func (r *GormTransactionRepository) ScanTransactions(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := r.db.WithContext(ctx).Model(&models.PaymentTransaction{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	var rows []*models.PaymentTransaction
	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &ScanResponse{Items: rows, Total: total}, nil
}

// GormEndpointRepository backs EndpointRepository with postgres via GORM.
type GormEndpointRepository struct {
	db *gorm.DB
}

func NewGormEndpointRepository(db *gorm.DB) EndpointRepository {
	return &GormEndpointRepository{db: db}
}

func (r *GormEndpointRepository) Create(ctx context.Context, ep *models.NotificationEndpoint) error {
	if err := r.db.WithContext(ctx).Create(ep).Error; err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	return nil
}

func (r *GormEndpointRepository) FindByID(ctx context.Context, id string) (*models.NotificationEndpoint, error) {
	var row models.NotificationEndpoint
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find endpoint: %w", err)
	}
	return &row, nil
}

func (r *GormEndpointRepository) FindByMerchant(ctx context.Context, merchantID string) ([]*models.NotificationEndpoint, error) {
	var rows []*models.NotificationEndpoint
	if err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return rows, nil
}

func (r *GormEndpointRepository) Update(ctx context.Context, ep *models.NotificationEndpoint) error {
	if err := r.db.WithContext(ctx).Save(ep).Error; err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	return nil
}

func (r *GormEndpointRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.NotificationEndpoint{}).Error; err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return nil
}

func (r *GormEndpointRepository) RecordDelivery(ctx context.Context, d *models.NotificationDelivery) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func (r *GormEndpointRepository) GetStats(ctx context.Context, endpointID string) (*EndpointStats, error) {
	var stats EndpointStats
	base := r.db.WithContext(ctx).Model(&models.NotificationDelivery{}).Where("endpoint_id = ?", endpointID)
	if err := base.Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	if err := base.Where("success = ?", true).Count(&stats.Succeeded).Error; err != nil {
		return nil, fmt.Errorf("failed to count successful deliveries: %w", err)
	}
	stats.Failed = stats.Total - stats.Succeeded
	return &stats, nil
}

// GormJobQueue backs the durable notification queue with postgres via GORM.
type GormJobQueue struct {
	db *gorm.DB
}

func NewGormJobQueue(db *gorm.DB) JobQueue {
	return &GormJobQueue{db: db}
}

func (q *GormJobQueue) Enqueue(ctx context.Context, job *models.NotificationJob) error {
	// Dedupe on payload id: re-raising the same logical event is a no-op.
	err := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(job).Error
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *GormJobQueue) Claim(ctx context.Context, now time.Time, limit int) ([]*models.NotificationJob, error) {
	var claimed []*models.NotificationJob
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []*models.NotificationJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", models.NotificationJobStatusPending, now).
			Order("next_attempt_at").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]string, 0, len(due))
		for _, j := range due {
			ids = append(ids, j.ID)
		}
		if err := tx.Model(&models.NotificationJob{}).
			Where("id IN ?", ids).
			Update("status", models.NotificationJobStatusDelivering).Error; err != nil {
			return err
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	return claimed, nil
}

func (q *GormJobQueue) MarkDelivered(ctx context.Context, id string) error {
	err := q.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("id = ?", id).
		Update("status", models.NotificationJobStatusDelivered).Error
	if err != nil {
		return fmt.Errorf("failed to mark job delivered: %w", err)
	}
	return nil
}

func (q *GormJobQueue) Reschedule(ctx context.Context, id string, attempts int, lastError string, nextAttempt *time.Time) error {
	fields := map[string]any{
		"attempts":   attempts,
		"last_error": lastError,
	}
	if nextAttempt != nil {
		fields["status"] = models.NotificationJobStatusPending
		fields["next_attempt_at"] = *nextAttempt
	} else {
		fields["status"] = models.NotificationJobStatusFailed
	}
	err := q.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

func (q *GormJobQueue) ResetInFlight(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("status = ?", models.NotificationJobStatusDelivering).
		Update("status", models.NotificationJobStatusPending)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset in-flight jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var Module = fx.Options(
	fx.Provide(NewGormTransactionRepository),
	fx.Provide(func(db *gorm.DB) TransactionScanner { return &GormTransactionRepository{db: db} }),
	fx.Provide(NewGormEndpointRepository),
	fx.Provide(NewGormJobQueue),
)
