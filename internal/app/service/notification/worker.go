package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/config"
)

var deliveryCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "nsim",
		Name:      "notification_deliveries_total",
		Help:      "Webhook delivery attempts, partitioned by event type and outcome.",
	},
	[]string{"event_type", "outcome"},
)

// WorkerPool drains the durable job queue and performs the webhook HTTP
// deliveries. Pool size bounds concurrent outbound calls so slow merchant
// endpoints only back up queue depth, never the payment request path.
type WorkerPool struct {
	queue       repository.JobQueue
	endpoints   repository.EndpointRepository
	log         *zap.SugaredLogger
	httpClient  *http.Client
	workers     int
	maxAttempts int
	retryBase   time.Duration
	timeout     time.Duration
	pollEvery   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(queue repository.JobQueue, endpoints repository.EndpointRepository, cfg *config.Config, log *zap.SugaredLogger) *WorkerPool {
	workers := cfg.Notification.Workers
	if workers <= 0 {
		workers = 5
	}
	maxAttempts := cfg.Notification.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &WorkerPool{
		queue:       queue,
		endpoints:   endpoints,
		log:         log,
		httpClient:  &http.Client{},
		workers:     workers,
		maxAttempts: maxAttempts,
		retryBase:   cfg.NotificationRetryBaseDelay(),
		timeout:     cfg.NotificationTimeout(),
		pollEvery:   cfg.NotificationPollInterval(),
	}
}

// Start launches the poller and the delivery workers. Jobs left in
// delivering by a crash or a previous shutdown are requeued first so no
// lease is ever lost across restarts.
func (p *WorkerPool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if n, err := p.queue.ResetInFlight(ctx); err != nil {
		p.log.Errorw("failed to requeue in-flight jobs", "err", err)
	} else if n > 0 {
		p.log.Infow("requeued in-flight notification jobs", "count", n)
	}

	jobs := make(chan *models.NotificationJob)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range jobs {
				p.deliver(ctx, job)
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(jobs)
		ticker := time.NewTicker(p.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx, jobs)
			}
		}
	}()
	p.log.Infow("notification worker pool started", "workers", p.workers)
}

// Stop cancels the poller and aborts in-flight delivery attempts; aborted
// attempts are rescheduled before the workers exit, so the jobs survive
// shutdown and are retried after restart.
func (p *WorkerPool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.log.Infow("notification worker pool stopped")
}

func (p *WorkerPool) poll(ctx context.Context, jobs chan<- *models.NotificationJob) {
	claimed, err := p.queue.Claim(ctx, time.Now().UTC(), p.workers*2)
	if err != nil {
		p.log.Errorw("failed to claim notification jobs", "err", err)
		return
	}
	for _, job := range claimed {
		select {
		case <-ctx.Done():
			return
		case jobs <- job:
		}
	}
}

// deliver performs one delivery attempt. A 2xx response completes the job;
// anything else reschedules it with exponential backoff until the attempt
// budget is spent.
func (p *WorkerPool) deliver(ctx context.Context, job *models.NotificationJob) {
	attempt := job.Attempts + 1

	status, err := p.post(ctx, job)
	success := err == nil

	// Queue bookkeeping must outlive shutdown: when Stop aborts the HTTP
	// attempt, the claimed job still has to be rescheduled or it would stay
	// in delivering forever.
	ctx = context.WithoutCancel(ctx)

	if recErr := p.endpoints.RecordDelivery(ctx, &models.NotificationDelivery{
		EndpointID: job.EndpointID,
		JobID:      job.ID,
		EventType:  job.EventType,
		Attempt:    attempt,
		Success:    success,
		StatusCode: status,
		Error:      errString(err),
	}); recErr != nil {
		p.log.Warnw("failed to record delivery attempt", "job_id", job.ID, "err", recErr)
	}

	if success {
		deliveryCounter.WithLabelValues(job.EventType, "delivered").Inc()
		if err := p.queue.MarkDelivered(ctx, job.ID); err != nil {
			p.log.Errorw("failed to mark job delivered", "job_id", job.ID, "err", err)
		}
		p.log.Infow("notification delivered", "job_id", job.ID, "event_type", job.EventType, "attempt", attempt)
		return
	}

	if attempt >= p.maxAttempts {
		deliveryCounter.WithLabelValues(job.EventType, "exhausted").Inc()
		if qErr := p.queue.Reschedule(ctx, job.ID, attempt, errString(err), nil); qErr != nil {
			p.log.Errorw("failed to mark job failed", "job_id", job.ID, "err", qErr)
		}
		p.log.Warnw("notification permanently failed",
			"job_id", job.ID, "event_type", job.EventType, "attempts", attempt, "err", err)
		return
	}

	deliveryCounter.WithLabelValues(job.EventType, "retry").Inc()
	next := time.Now().UTC().Add(p.retryBase << uint(attempt-1))
	if qErr := p.queue.Reschedule(ctx, job.ID, attempt, errString(err), &next); qErr != nil {
		p.log.Errorw("failed to reschedule job", "job_id", job.ID, "err", qErr)
	}
	p.log.Infow("notification delivery failed, rescheduled",
		"job_id", job.ID, "attempt", attempt, "next_attempt_at", next, "err", err)
}

func (p *WorkerPool) post(ctx context.Context, job *models.NotificationJob) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, job.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, "sha256="+job.Signature)
	req.Header.Set(HeaderID, job.ID)
	req.Header.Set(HeaderTimestamp, job.CreatedAt.UTC().Format(time.RFC3339))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
