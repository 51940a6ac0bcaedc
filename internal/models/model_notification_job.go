package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationJobStatus is the delivery state of one queued webhook job.
type NotificationJobStatus string

const (
	NotificationJobStatusPending    NotificationJobStatus = "pending"
	NotificationJobStatusDelivering NotificationJobStatus = "delivering"
	NotificationJobStatusDelivered  NotificationJobStatus = "delivered"
	// NotificationJobStatusFailed means retries were exhausted; no further
	// automatic action is taken.
	NotificationJobStatusFailed NotificationJobStatus = "failed"
)

// NotificationJob is one durable unit of webhook delivery work. The primary
// key is the payload id, so re-raising the same logical event never creates a
// second queue entry.
type NotificationJob struct {
	ID         string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	EndpointID string `gorm:"column:endpoint_id;type:uuid;not null" json:"endpoint_id"`
	MerchantID string `gorm:"column:merchant_id;type:varchar(64);not null" json:"merchant_id"`
	URL        string `gorm:"column:url;type:text;not null" json:"url"`
	EventType  string `gorm:"column:event_type;type:varchar(64);not null" json:"event_type"`
	// Payload is the serialized event body; Signature is the hex HMAC-SHA256
	// of exactly these bytes under the endpoint secret.
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Signature string         `gorm:"column:signature;type:varchar(128);not null" json:"signature"`
	Secret    string         `gorm:"column:secret;type:varchar(128);not null" json:"-"`

	Status        NotificationJobStatus `gorm:"column:status;type:varchar(16);not null;index:idx_job_status_next,priority:1" json:"status"`
	Attempts      int                   `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt time.Time             `gorm:"column:next_attempt_at;not null;index:idx_job_status_next,priority:2" json:"next_attempt_at"`
	LastError     string                `gorm:"column:last_error;type:varchar(255)" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NotificationJob) TableName() string {
	return "notification_job"
}

// NotificationDelivery is one recorded delivery attempt, kept for endpoint
// statistics and debugging.
type NotificationDelivery struct {
	ID         int64     `gorm:"column:id;primary_key;autoIncrement" json:"id"`
	EndpointID string    `gorm:"column:endpoint_id;type:uuid;not null;index:idx_delivery_endpoint" json:"endpoint_id"`
	JobID      string    `gorm:"column:job_id;type:uuid;not null" json:"job_id"`
	EventType  string    `gorm:"column:event_type;type:varchar(64);not null" json:"event_type"`
	Attempt    int       `gorm:"column:attempt;not null" json:"attempt"`
	Success    bool      `gorm:"column:success;not null" json:"success"`
	StatusCode int       `gorm:"column:status_code;not null;default:0" json:"status_code"`
	Error      string    `gorm:"column:error;type:varchar(255)" json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (NotificationDelivery) TableName() string {
	return "notification_delivery"
}
