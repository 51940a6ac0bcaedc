package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/pkg/types"
)

// MemoryTransactionRepository is an in-memory TransactionRepository used by
// tests. The conditional update holds the same check-and-set semantics as the
// postgres implementation.
type MemoryTransactionRepository struct {
	mu   sync.RWMutex
	rows map[string]*models.PaymentTransaction
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{rows: map[string]*models.PaymentTransaction{}}
}

func (r *MemoryTransactionRepository) Create(_ context.Context, tx *models.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	r.rows[tx.ID] = &cp
	return nil
}

func (r *MemoryTransactionRepository) FindByID(_ context.Context, id string) (*models.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryTransactionRepository) FindByStatus(_ context.Context, status types.TransactionStatus) ([]*models.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.PaymentTransaction
	for _, row := range r.rows {
		if row.Status == status {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryTransactionRepository) FindExpiredAuthorizations(_ context.Context, now time.Time) ([]*models.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.PaymentTransaction
	for _, row := range r.rows {
		if row.Status == types.TransactionStatusAuthorized && row.ExpiresAt != nil && !row.ExpiresAt.After(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryTransactionRepository) UpdateWhereStatus(_ context.Context, id string, expected types.TransactionStatus, upd TxUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != expected {
		return ErrStatusConflict
	}
	if upd.Status != nil {
		row.Status = *upd.Status
	}
	if upd.AuthorizationCode != nil {
		row.AuthorizationCode = *upd.AuthorizationCode
	}
	if upd.IssuerInstanceID != nil {
		row.IssuerInstanceID = *upd.IssuerInstanceID
	}
	if upd.CapturedAmount != nil {
		row.CapturedAmount = *upd.CapturedAmount
	}
	if upd.RefundedAmount != nil {
		row.RefundedAmount = *upd.RefundedAmount
	}
	if upd.DeclineReason != nil {
		row.DeclineReason = *upd.DeclineReason
	}
	if upd.ExpiresAt != nil {
		row.ExpiresAt = upd.ExpiresAt
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryTransactionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

// MemoryEndpointRepository is an in-memory EndpointRepository for tests.
type MemoryEndpointRepository struct {
	mu         sync.RWMutex
	rows       map[string]*models.NotificationEndpoint
	deliveries []*models.NotificationDelivery
}

func NewMemoryEndpointRepository() *MemoryEndpointRepository {
	return &MemoryEndpointRepository{rows: map[string]*models.NotificationEndpoint{}}
}

func (r *MemoryEndpointRepository) Create(_ context.Context, ep *models.NotificationEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ep
	r.rows[ep.ID] = &cp
	return nil
}

func (r *MemoryEndpointRepository) FindByID(_ context.Context, id string) (*models.NotificationEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryEndpointRepository) FindByMerchant(_ context.Context, merchantID string) ([]*models.NotificationEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.NotificationEndpoint
	for _, row := range r.rows {
		if row.MerchantID == merchantID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryEndpointRepository) Update(_ context.Context, ep *models.NotificationEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[ep.ID]; !ok {
		return ErrNotFound
	}
	cp := *ep
	r.rows[ep.ID] = &cp
	return nil
}

func (r *MemoryEndpointRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *MemoryEndpointRepository) RecordDelivery(_ context.Context, d *models.NotificationDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deliveries = append(r.deliveries, &cp)
	return nil
}

func (r *MemoryEndpointRepository) GetStats(_ context.Context, endpointID string) (*EndpointStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &EndpointStats{}
	for _, d := range r.deliveries {
		if d.EndpointID != endpointID {
			continue
		}
		stats.Total++
		if d.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

// MemoryJobQueue is an in-memory JobQueue for tests. A cancelled context
// fails every operation, matching how the gorm queue behaves under
// WithContext.
type MemoryJobQueue struct {
	mu   sync.Mutex
	jobs map[string]*models.NotificationJob
}

func NewMemoryJobQueue() *MemoryJobQueue {
	return &MemoryJobQueue{jobs: map[string]*models.NotificationJob{}}
}

func (q *MemoryJobQueue) Enqueue(ctx context.Context, job *models.NotificationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.ID]; ok {
		return nil
	}
	cp := *job
	q.jobs[job.ID] = &cp
	return nil
}

func (q *MemoryJobQueue) Claim(ctx context.Context, now time.Time, limit int) ([]*models.NotificationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.NotificationJob
	for _, j := range q.jobs {
		if len(out) >= limit {
			break
		}
		if j.Status == models.NotificationJobStatusPending && !j.NextAttemptAt.After(now) {
			j.Status = models.NotificationJobStatusDelivering
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (q *MemoryJobQueue) MarkDelivered(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		j.Status = models.NotificationJobStatusDelivered
	}
	return nil
}

func (q *MemoryJobQueue) Reschedule(ctx context.Context, id string, attempts int, lastError string, nextAttempt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Attempts = attempts
	j.LastError = lastError
	if nextAttempt != nil {
		j.Status = models.NotificationJobStatusPending
		j.NextAttemptAt = *nextAttempt
	} else {
		j.Status = models.NotificationJobStatusFailed
	}
	return nil
}

func (q *MemoryJobQueue) ResetInFlight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, j := range q.jobs {
		if j.Status == models.NotificationJobStatusDelivering {
			j.Status = models.NotificationJobStatusPending
			n++
		}
	}
	return n, nil
}

// Jobs returns a snapshot of all queue rows; test helper.
func (q *MemoryJobQueue) Jobs() []*models.NotificationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.NotificationJob, 0, len(q.jobs))
	for _, j := range q.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
