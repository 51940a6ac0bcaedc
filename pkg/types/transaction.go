package types

// TransactionStatus is the lifecycle state of a payment transaction.
// Transitions only move forward:
//
//	pending -> authorized -> captured -> refunded
//	pending -> declined | failed
//	authorized -> voided | expired
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusAuthorized TransactionStatus = "authorized"
	TransactionStatusCaptured   TransactionStatus = "captured"
	TransactionStatusRefunded   TransactionStatus = "refunded"
	TransactionStatusVoided     TransactionStatus = "voided"
	TransactionStatusDeclined   TransactionStatus = "declined"
	TransactionStatusExpired    TransactionStatus = "expired"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// EventType identifies a transaction lifecycle event delivered to merchants.
type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentVoided     EventType = "payment.voided"
	EventPaymentRefunded   EventType = "payment.refunded"
	EventPaymentDeclined   EventType = "payment.declined"
	EventPaymentExpired    EventType = "payment.expired"
	EventPaymentFailed     EventType = "payment.failed"
)

// AllEventTypes lists every event type a notification endpoint may subscribe to.
var AllEventTypes = []EventType{
	EventPaymentAuthorized,
	EventPaymentCaptured,
	EventPaymentVoided,
	EventPaymentRefunded,
	EventPaymentDeclined,
	EventPaymentExpired,
	EventPaymentFailed,
}

// ValidEventType reports whether s names a known event type.
func ValidEventType(s string) bool {
	for _, e := range AllEventTypes {
		if string(e) == s {
			return true
		}
	}
	return false
}
