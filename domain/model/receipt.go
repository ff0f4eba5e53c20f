package model

import "time"

// DeliveryReceipt records a successful send attempt.
type DeliveryReceipt struct {
	MessageID     string
	Kind          TransportKind // transport_used
	Elapsed       time.Duration
	TargetReached string
	Confirmation  Confirmation
	Metadata      map[string]string
}
