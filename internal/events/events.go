// internal/events/events.go
package events

import "time"

// The core publishes exactly three event shapes. The broadcaster is a sink:
// a failed or dropped publish never fails the state change that caused it.

type Event interface {
	EventType() string
}

// CampaignStatusEvent announces a campaign lifecycle change.
type CampaignStatusEvent struct {
	CampaignID int       `json:"campaign_id"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

func (CampaignStatusEvent) EventType() string { return "campaign.status" }

// CampaignProgressEvent is coarse dispatch progress, emitted at most once per
// percentage point to bound fan-out volume.
type CampaignProgressEvent struct {
	CampaignID int       `json:"campaign_id"`
	Percent    int       `json:"percent"`
	Dispatched int       `json:"dispatched"`
	Total      int       `json:"total"`
	At         time.Time `json:"at"`
}

func (CampaignProgressEvent) EventType() string { return "campaign.progress" }

// RecipientStatusEvent announces a single recipient moving along the lattice.
type RecipientStatusEvent struct {
	CampaignID  int       `json:"campaign_id"`
	RecipientID int       `json:"recipient_id"`
	Status      string    `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	At          time.Time `json:"at"`
}

func (RecipientStatusEvent) EventType() string { return "recipient.status" }
