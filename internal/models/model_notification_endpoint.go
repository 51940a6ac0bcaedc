package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/jordancrombie/nsim/pkg/types"
)

// NotificationEndpoint is a merchant-registered webhook delivery target.
type NotificationEndpoint struct {
	ID         string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	MerchantID string `gorm:"column:merchant_id;type:varchar(64);not null;index:idx_endpoint_merchant" json:"merchant_id"`
	URL        string `gorm:"column:url;type:text;not null" json:"url"`
	// Events holds the subscribed event types; empty means none.
	Events datatypes.JSONType[[]string] `gorm:"column:events;type:jsonb;default:'[]'" json:"events"`
	// Secret signs every payload delivered to this endpoint. Never returned
	// to API callers after creation.
	Secret    string    `gorm:"column:secret;type:varchar(128);not null" json:"-"`
	Active    bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NotificationEndpoint) TableName() string {
	return "notification_endpoint"
}

// SubscribedTo reports whether the endpoint wants the given event type.
func (e *NotificationEndpoint) SubscribedTo(event types.EventType) bool {
	if e == nil {
		return false
	}
	for _, s := range e.Events.Data() {
		if s == string(event) {
			return true
		}
	}
	return false
}
