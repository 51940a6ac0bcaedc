package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/types"
)

var enqueueCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "nsim",
		Name:      "notification_enqueued_total",
		Help:      "Notification jobs enqueued, partitioned by event type and outcome.",
	},
	[]string{"event_type", "outcome"},
)

func init() {
	prometheus.MustRegister(enqueueCounter, deliveryCounter)
}

// Event is one transaction state change to fan out to merchant endpoints.
// EventID is generated once per logical event by the caller so that
// re-raising never enqueues duplicate work.
type Event struct {
	EventID       string
	Type          types.EventType
	MerchantID    string
	TransactionID string
	OrderID       string
	Amount        int64
	Currency      string
	Status        types.TransactionStatus

	AuthorizationCode string
	DeclineReason     string
	CapturedAmount    int64
	RefundedAmount    int64
	RefundID          string
	RefundAmount      int64
}

// payloadData is the "data" object of the delivered webhook body.
type payloadData struct {
	TransactionID     string `json:"transactionId"`
	MerchantID        string `json:"merchantId"`
	OrderID           string `json:"orderId"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	DeclineReason     string `json:"declineReason,omitempty"`
	CapturedAmount    int64  `json:"capturedAmount,omitempty"`
	RefundedAmount    int64  `json:"refundedAmount,omitempty"`
	RefundID          string `json:"refundId,omitempty"`
	RefundAmount      int64  `json:"refundAmount,omitempty"`
}

type payload struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      payloadData `json:"data"`
}

// Dispatcher signs transaction events and enqueues them for asynchronous
// delivery. Enqueueing is best-effort from the caller's perspective: a
// failure is returned so it can be logged and counted, but it must never
// fail the payment operation that raised the event.
type Dispatcher struct {
	endpoints repository.EndpointRepository
	queue     repository.JobQueue
	log       *zap.SugaredLogger
}

func NewDispatcher(endpoints repository.EndpointRepository, queue repository.JobQueue, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{endpoints: endpoints, queue: queue, log: log}
}

// Raise fans the event out to every active endpoint of the merchant that
// subscribes to the event type. The payload is serialized once per endpoint
// and signed with that endpoint's secret.
func (d *Dispatcher) Raise(ctx context.Context, ev *Event) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}

	all, err := d.endpoints.FindByMerchant(ctx, ev.MerchantID)
	if err != nil {
		enqueueCounter.WithLabelValues(string(ev.Type), "error").Inc()
		return fmt.Errorf("failed to list endpoints for merchant %s: %w", ev.MerchantID, err)
	}
	targets := lo.Filter(all, func(ep *models.NotificationEndpoint, _ int) bool {
		return ep.Active && ep.SubscribedTo(ev.Type)
	})
	if len(targets) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, ep := range targets {
		job, err := d.buildJob(ev, ep, now)
		if err != nil {
			enqueueCounter.WithLabelValues(string(ev.Type), "error").Inc()
			return err
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			enqueueCounter.WithLabelValues(string(ev.Type), "error").Inc()
			return fmt.Errorf("failed to enqueue notification: %w", err)
		}
		enqueueCounter.WithLabelValues(string(ev.Type), "ok").Inc()
		d.log.Infow("notification enqueued",
			"event_id", ev.EventID,
			"event_type", ev.Type,
			"endpoint_id", ep.ID,
			"transaction_id", ev.TransactionID,
		)
	}
	return nil
}

func (d *Dispatcher) buildJob(ev *Event, ep *models.NotificationEndpoint, now time.Time) (*models.NotificationJob, error) {
	// Deterministic per (event, endpoint): re-raising the same logical event
	// maps onto the same job id and the queue drops the duplicate.
	jobID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ev.EventID+":"+ep.ID)).String()

	body := payload{
		ID:        jobID,
		Type:      string(ev.Type),
		Timestamp: now.Format(time.RFC3339),
		Data: payloadData{
			TransactionID:     ev.TransactionID,
			MerchantID:        ev.MerchantID,
			OrderID:           ev.OrderID,
			Amount:            ev.Amount,
			Currency:          ev.Currency,
			Status:            string(ev.Status),
			AuthorizationCode: ev.AuthorizationCode,
			DeclineReason:     ev.DeclineReason,
			CapturedAmount:    ev.CapturedAmount,
			RefundedAmount:    ev.RefundedAmount,
			RefundID:          ev.RefundID,
			RefundAmount:      ev.RefundAmount,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize notification payload: %w", err)
	}

	return &models.NotificationJob{
		ID:            jobID,
		EndpointID:    ep.ID,
		MerchantID:    ev.MerchantID,
		URL:           ep.URL,
		EventType:     string(ev.Type),
		Payload:       datatypes.JSON(raw),
		Signature:     Sign(raw, ep.Secret),
		Secret:        ep.Secret,
		Status:        models.NotificationJobStatusPending,
		NextAttemptAt: now,
		// Matches the payload timestamp; echoed in X-Webhook-Timestamp.
		CreatedAt: now,
	}, nil
}
