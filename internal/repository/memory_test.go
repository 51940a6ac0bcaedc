package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/pkg/types"
)

func seedTx(t *testing.T, repo *MemoryTransactionRepository, id string, status types.TransactionStatus) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &models.PaymentTransaction{
		ID:         id,
		MerchantID: "m1",
		Amount:     100,
		Currency:   "CAD",
		Status:     status,
	}))
}

func TestUpdateWhereStatus_AppliesOnlyOnExpectedStatus(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	seedTx(t, repo, "tx-1", types.TransactionStatusAuthorized)

	captured := int64(100)
	err := repo.UpdateWhereStatus(context.Background(), "tx-1", types.TransactionStatusAuthorized, TxUpdate{
		Status:         ptrStatus(types.TransactionStatusCaptured),
		CapturedAmount: &captured,
	})
	require.NoError(t, err)

	tx, err := repo.FindByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, tx.Status)
	require.EqualValues(t, 100, tx.CapturedAmount)
}

func TestUpdateWhereStatus_ConflictLeavesRowUntouched(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	seedTx(t, repo, "tx-1", types.TransactionStatusCaptured)

	err := repo.UpdateWhereStatus(context.Background(), "tx-1", types.TransactionStatusAuthorized, TxUpdate{
		Status: ptrStatus(types.TransactionStatusVoided),
	})
	require.ErrorIs(t, err, ErrStatusConflict)

	tx, err := repo.FindByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCaptured, tx.Status)
}

func TestUpdateWhereStatus_MissingRow(t *testing.T) {
	repo := NewMemoryTransactionRepository()

	err := repo.UpdateWhereStatus(context.Background(), "missing", types.TransactionStatusAuthorized, TxUpdate{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateWhereStatus_NilFieldsAreNotWritten(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	seedTx(t, repo, "tx-1", types.TransactionStatusPending)

	code := "AUTH-1"
	err := repo.UpdateWhereStatus(context.Background(), "tx-1", types.TransactionStatusPending, TxUpdate{
		AuthorizationCode: &code,
	})
	require.NoError(t, err)

	tx, err := repo.FindByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusPending, tx.Status)
	require.Equal(t, "AUTH-1", tx.AuthorizationCode)
}

func TestFindExpiredAuthorizations_FiltersStatusAndDeadline(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	now := time.Now().UTC()

	add := func(id string, status types.TransactionStatus, expiresAt *time.Time) {
		require.NoError(t, repo.Create(context.Background(), &models.PaymentTransaction{
			ID: id, MerchantID: "m1", Amount: 100, Status: status, ExpiresAt: expiresAt,
		}))
	}
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	add("due", types.TransactionStatusAuthorized, &past)
	add("exact", types.TransactionStatusAuthorized, &now)
	add("fresh", types.TransactionStatusAuthorized, &future)
	add("captured", types.TransactionStatusCaptured, &past)
	add("no-expiry", types.TransactionStatusAuthorized, nil)

	rows, err := repo.FindExpiredAuthorizations(context.Background(), now)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	require.ElementsMatch(t, []string{"due", "exact"}, ids)
}

func TestJobQueue_ClaimSkipsFutureAndInFlight(t *testing.T) {
	queue := NewMemoryJobQueue()
	now := time.Now()

	add := func(id string, next time.Time) {
		require.NoError(t, queue.Enqueue(context.Background(), &models.NotificationJob{
			ID:            id,
			Status:        models.NotificationJobStatusPending,
			NextAttemptAt: next,
			CreatedAt:     now,
		}))
	}
	add("due-1", now.Add(-time.Second))
	add("due-2", now.Add(-time.Second))
	add("future", now.Add(time.Hour))

	claimed, err := queue.Claim(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Claimed jobs are in flight and must not be handed out twice.
	again, err := queue.Claim(context.Background(), now, 10)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestJobQueue_RescheduleNilDeadlineIsPermanentFailure(t *testing.T) {
	queue := NewMemoryJobQueue()
	require.NoError(t, queue.Enqueue(context.Background(), &models.NotificationJob{
		ID:            "job-1",
		Status:        models.NotificationJobStatusPending,
		NextAttemptAt: time.Now().Add(-time.Second),
	}))

	_, err := queue.Claim(context.Background(), time.Now(), 1)
	require.NoError(t, err)

	next := time.Now().Add(time.Minute)
	require.NoError(t, queue.Reschedule(context.Background(), "job-1", 1, "boom", &next))
	require.Equal(t, models.NotificationJobStatusPending, queue.Jobs()[0].Status)

	require.NoError(t, queue.Reschedule(context.Background(), "job-1", 2, "boom again", nil))
	job := queue.Jobs()[0]
	require.Equal(t, models.NotificationJobStatusFailed, job.Status)
	require.Equal(t, 2, job.Attempts)
	require.Equal(t, "boom again", job.LastError)
}

func TestJobQueue_ResetInFlightRequeuesDelivering(t *testing.T) {
	queue := NewMemoryJobQueue()
	require.NoError(t, queue.Enqueue(context.Background(), &models.NotificationJob{
		ID:            "job-1",
		Status:        models.NotificationJobStatusPending,
		NextAttemptAt: time.Now().Add(-time.Second),
	}))
	require.NoError(t, queue.Enqueue(context.Background(), &models.NotificationJob{
		ID:     "job-2",
		Status: models.NotificationJobStatusDelivered,
	}))

	claimed, err := queue.Claim(context.Background(), time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := queue.ResetInFlight(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	for _, j := range queue.Jobs() {
		switch j.ID {
		case "job-1":
			require.Equal(t, models.NotificationJobStatusPending, j.Status)
		case "job-2":
			require.Equal(t, models.NotificationJobStatusDelivered, j.Status)
		}
	}
}

func TestJobQueue_CancelledContextFailsOperations(t *testing.T) {
	queue := NewMemoryJobQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, queue.Enqueue(ctx, &models.NotificationJob{ID: "job-1"}))
	_, err := queue.Claim(ctx, time.Now(), 1)
	require.Error(t, err)
	require.Error(t, queue.Reschedule(ctx, "job-1", 1, "", nil))
}

func TestJobQueue_EnqueueIsIdempotentPerID(t *testing.T) {
	queue := NewMemoryJobQueue()
	job := &models.NotificationJob{ID: "job-1", Status: models.NotificationJobStatusPending}

	require.NoError(t, queue.Enqueue(context.Background(), job))
	require.NoError(t, queue.Enqueue(context.Background(), job))
	require.Len(t, queue.Jobs(), 1)
}

func ptrStatus(s types.TransactionStatus) *types.TransactionStatus { return &s }
