package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/jordancrombie/nsim/pkg/types"
)

// PaymentTransaction is the central audit record of one card transaction.
// Rows are never deleted in normal operation.
type PaymentTransaction struct {
	ID           string                  `gorm:"column:id;primary_key;type:uuid" json:"id"`
	MerchantID   string                  `gorm:"column:merchant_id;type:varchar(64);not null;index:idx_merchant_id_created,priority:1" json:"merchant_id"`
	MerchantName string                  `gorm:"column:merchant_name;type:varchar(128);not null" json:"merchant_name"`
	OrderID      string                  `gorm:"column:order_id;type:varchar(128);not null" json:"order_id"`
	CardToken    string                  `gorm:"column:card_token;type:text;not null" json:"card_token"`
	Amount       int64                   `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency     string                  `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status       types.TransactionStatus `gorm:"column:status;type:varchar(16);not null;index:idx_status_expires,priority:1" json:"status"`

	// AuthorizationCode is set only when the issuer approves.
	AuthorizationCode string `gorm:"column:authorization_code;type:varchar(64)" json:"authorization_code,omitempty"`
	// IssuerInstanceID records which issuer approved; immutable once set and
	// used for every subsequent operation on this transaction.
	IssuerInstanceID string `gorm:"column:issuer_instance_id;type:varchar(64)" json:"issuer_instance_id,omitempty"`

	CapturedAmount int64  `gorm:"column:captured_amount;type:bigint;not null;default:0" json:"captured_amount"`
	RefundedAmount int64  `gorm:"column:refunded_amount;type:bigint;not null;default:0" json:"refunded_amount"`
	DeclineReason  string `gorm:"column:decline_reason;type:varchar(255)" json:"decline_reason,omitempty"`
	Description    string `gorm:"column:description;type:varchar(255)" json:"description,omitempty"`

	Metadata datatypes.JSONType[map[string]string] `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`

	// ExpiresAt is set only when the transaction reaches authorized.
	ExpiresAt *time.Time `gorm:"column:expires_at;default:null;index:idx_status_expires,priority:2" json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;index:idx_merchant_id_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transaction"
}

// RemainingRefundable is the amount still eligible for refund.
func (t *PaymentTransaction) RemainingRefundable() int64 {
	if t == nil {
		return 0
	}
	return t.CapturedAmount - t.RefundedAmount
}

// DisplayName falls back to the merchant id when no name was supplied.
func (t *PaymentTransaction) DisplayName() string {
	if t == nil {
		return ""
	}
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.MerchantID
}
