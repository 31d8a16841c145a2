// internal/model/campaign.go
package model

import "time"

// Campaign lifecycle statuses. The campaign service is the only writer of
// Status; counters are bumped atomically by the dispatcher and the delivery
// correlator.
const (
    CampaignDraft     = "draft"
    CampaignScheduled = "scheduled"
    CampaignRunning   = "running"
    CampaignPaused    = "paused"
    CampaignCompleted = "completed"
    CampaignCancelled = "cancelled"
    CampaignFailed    = "failed"
)

type Campaign struct {
    ID              int        `db:"id" json:"id"`
    TenantID        int        `db:"tenant_id" json:"tenant_id"`
    Name            string     `db:"name" json:"name"`
    SenderAccount   string     `db:"sender_account" json:"sender_account"`
    BaseTemplate    string     `db:"base_template" json:"base_template"`
    Status          string     `db:"status" json:"status"`
    TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
    Sent            int        `db:"sent" json:"sent"`
    Delivered       int        `db:"delivered" json:"delivered"`
    Read            int        `db:"read" json:"read"`
    Failed          int        `db:"failed" json:"failed"`
    ScheduledAt     *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
    CreatedAt       time.Time  `db:"created_at" json:"created_at"`
    StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
    CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
    UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// CampaignTerminal reports whether no further campaign transition can occur.
func CampaignTerminal(status string) bool {
    return status == CampaignCompleted || status == CampaignCancelled || status == CampaignFailed
}
