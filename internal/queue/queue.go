// internal/queue/queue.go
package queue

import "context"

// Queue topics. Both are durable: items survive a process restart between
// enqueue and ack.
const (
	TopicDispatch = "dispatch_jobs"
	TopicDelivery = "delivery_events"
)

// DispatchJob is the work ticket the dispatcher drains: it only references
// the recipient, all state lives in the recipient store.
type DispatchJob struct {
	RecipientID int `json:"recipient_id"`
	CampaignID  int `json:"campaign_id"`
	Attempt     int `json:"attempt"`
}

// Message is one consumed item. Ack removes it for good; Nack(true) hands it
// back for redelivery.
type Message interface {
	Body() []byte
	Ack()
	Nack(requeue bool)
}

// Queue interface
type Queue interface {
	Publish(topic string, body []byte) error
	Consume(ctx context.Context, topic string) (<-chan Message, error)
}
