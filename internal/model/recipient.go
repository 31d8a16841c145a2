// internal/model/recipient.go
package model

import "time"

// Recipient statuses. Transitions only ever move forward along the rank
// below; failed and cancelled are terminal.
const (
    RecipientPending   = "pending"
    RecipientQueued    = "queued"
    RecipientSending   = "sending"
    RecipientSent      = "sent"
    RecipientDelivered = "delivered"
    RecipientRead      = "read"
    RecipientFailed    = "failed"
    RecipientCancelled = "cancelled"
)

// Recipient is one (campaign, contact) pair: a single message to send and
// track. ProviderMessageID is set only after the provider acknowledged the
// send, and is the key delivery events correlate on.
type Recipient struct {
    ID                int       `db:"id" json:"id"`
    CampaignID        int       `db:"campaign_id" json:"campaign_id"`
    ContactID         int       `db:"contact_id" json:"contact_id"`
    Destination       string    `db:"destination" json:"destination"`
    RenderedContent   string    `db:"rendered_content" json:"rendered_content"`
    Status            string    `db:"status" json:"status"`
    ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
    AttemptCount      int       `db:"attempt_count" json:"attempt_count"`
    LastError         string    `db:"last_error" json:"last_error,omitempty"`
    CreatedAt         time.Time `db:"created_at" json:"created_at"`
    UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

var recipientRank = map[string]int{
    RecipientPending:   0,
    RecipientQueued:    1,
    RecipientSending:   2,
    RecipientSent:      3,
    RecipientDelivered: 4,
    RecipientRead:      5,
    RecipientFailed:    6,
    RecipientCancelled: 6,
}

// StatusRank orders recipient statuses along the dispatch/delivery path.
// failed and cancelled share the top rank: both are terminal.
func StatusRank(status string) int {
    return recipientRank[status]
}

// RecipientTerminal reports whether the status can never change again.
func RecipientTerminal(status string) bool {
    return status == RecipientFailed || status == RecipientCancelled
}
