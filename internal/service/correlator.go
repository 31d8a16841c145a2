// internal/service/correlator.go
package service

import (
    "context"
    "encoding/json"
    "log"
    "time"

    "github.com/sendwave/sendwave-backend/internal/events"
    "github.com/sendwave/sendwave-backend/internal/model"
    "github.com/sendwave/sendwave-backend/internal/queue"
    "github.com/sendwave/sendwave-backend/internal/repository"
)

// Correlator matches inbound delivery events to recipients by provider
// message id and applies them monotonically. Duplicates and out-of-order
// arrivals are silent no-ops; counter bumps are gated on the store-level
// transition the correlator just won, which is what makes redelivery
// harmless. Every event is acked so the transport never redelivers forever.
type Correlator struct {
    RecipientRepo repository.RecipientRepositoryInterface
    CampaignRepo  repository.CampaignRepositoryInterface
    Queue         queue.Queue
    Broadcaster   events.Broadcaster

    // A delivery event can beat the SENT row commit by a moment; the lookup
    // retries over a short window before the event is dropped.
    LookupAttempts int
    LookupBackoff  time.Duration
}

// Run consumes the delivery-events queue until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) error {
    msgs, err := c.Queue.Consume(ctx, queue.TopicDelivery)
    if err != nil {
        return err
    }

    for msg := range msgs {
        var ev model.DeliveryEvent
        if err := json.Unmarshal(msg.Body(), &ev); err != nil {
            log.Println("⚠️ dropping malformed delivery event:", err)
            msg.Ack()
            continue
        }
        if err := c.Apply(ev); err != nil {
            log.Println("⚠️ failed to apply delivery event for", ev.ProviderMessageID, ":", err)
        }
        msg.Ack()
    }
    return nil
}

// Apply processes one normalized delivery event. It never returns an error
// for a duplicate, stale, or unmatchable event; only storage faults surface.
func (c *Correlator) Apply(ev model.DeliveryEvent) error {
    status, ok := recipientStatusFor(ev.Status)
    if !ok {
        log.Println("⚠️ ignoring delivery event with unknown status:", ev.Status)
        return nil
    }

    recipient := c.lookup(ev.ProviderMessageID)
    if recipient == nil {
        log.Println("⚠️ no recipient for provider message", ev.ProviderMessageID, "- dropping event")
        return nil
    }

    prev, applied, err := c.RecipientRepo.AdvanceDeliveryStatus(ev.ProviderMessageID, status, ev.ErrorCode)
    if err != nil {
        return err
    }
    if !applied {
        // duplicate or out-of-order: state already at or past this status
        return nil
    }

    switch status {
    case model.RecipientDelivered:
        c.bump(c.CampaignRepo.IncrementDelivered, recipient.CampaignID, "delivered")
    case model.RecipientRead:
        if prev == model.RecipientSent {
            // the read receipt implies delivery; the stale DELIVERED event,
            // if it ever shows up, lands as a no-op
            c.bump(c.CampaignRepo.IncrementDelivered, recipient.CampaignID, "delivered")
        }
        c.bump(c.CampaignRepo.IncrementRead, recipient.CampaignID, "read")
    case model.RecipientFailed:
        c.bump(c.CampaignRepo.IncrementFailed, recipient.CampaignID, "failed")
    }

    if c.Broadcaster != nil {
        c.Broadcaster.Publish(events.RecipientStatusEvent{
            CampaignID:  recipient.CampaignID,
            RecipientID: recipient.ID,
            Status:      status,
            ErrorDetail: ev.ErrorCode,
            At:          time.Now(),
        })
    }
    return nil
}

func (c *Correlator) lookup(providerMessageID string) *model.Recipient {
    attempts := c.LookupAttempts
    if attempts < 1 {
        attempts = 5
    }
    backoff := c.LookupBackoff
    if backoff <= 0 {
        backoff = 200 * time.Millisecond
    }

    for i := 0; i < attempts; i++ {
        if i > 0 {
            time.Sleep(backoff)
        }
        rec, err := c.RecipientRepo.GetByProviderMessageID(providerMessageID)
        if err != nil {
            log.Println("⚠️ recipient lookup failed for", providerMessageID, ":", err)
            continue
        }
        if rec != nil {
            return rec
        }
    }
    return nil
}

func (c *Correlator) bump(inc func(int) error, campaignID int, counter string) {
    if err := inc(campaignID); err != nil {
        log.Println("⚠️ failed to bump", counter, "counter for campaign", campaignID, ":", err)
    }
}

func recipientStatusFor(deliveryStatus string) (string, bool) {
    switch deliveryStatus {
    case model.DeliveryDelivered:
        return model.RecipientDelivered, true
    case model.DeliveryRead:
        return model.RecipientRead, true
    case model.DeliveryFailed:
        return model.RecipientFailed, true
    }
    return "", false
}
