// internal/model/delivery_event.go
package model

import "time"

// Delivery event statuses as reported by the provider webhook. The upstream
// webhook layer has already verified and normalized the payload by the time
// the core sees one of these.
const (
    DeliveryDelivered = "delivered"
    DeliveryRead      = "read"
    DeliveryFailed    = "failed"
)

// DeliveryEvent is transient: it is consumed, applied (or dropped) and never
// persisted. The same event may arrive more than once and out of order.
type DeliveryEvent struct {
    ProviderMessageID string    `json:"provider_message_id"`
    Status            string    `json:"status"`
    Timestamp         time.Time `json:"timestamp"`
    ErrorCode         string    `json:"error_code,omitempty"`
}
