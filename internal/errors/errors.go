// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
    CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidTransition rejects a control call that the campaign state machine
// does not allow (e.g. pausing a completed campaign). It is a rejection the
// caller reports back, never a crash.
type ErrInvalidTransition struct {
    From string
    To   string
}

func (e *ErrInvalidTransition) Error() string {
    return fmt.Sprintf("cannot transition campaign from %s to %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
    return &ErrInvalidTransition{From: from, To: to}
}

// ErrCampaignAlreadyStarted rejects a second start of the same campaign;
// recipients are materialized exactly once.
type ErrCampaignAlreadyStarted struct {
    CampaignID int
}

func (e *ErrCampaignAlreadyStarted) Error() string {
    return fmt.Sprintf("campaign with ID %d has already been started", e.CampaignID)
}

func NewCampaignAlreadyStarted(id int) error {
    return &ErrCampaignAlreadyStarted{CampaignID: id}
}
