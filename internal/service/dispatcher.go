// internal/service/dispatcher.go
package service

import (
    "context"
    "encoding/json"
    "log"
    "sync"
    "time"

    "github.com/sendwave/sendwave-backend/internal/events"
    "github.com/sendwave/sendwave-backend/internal/model"
    "github.com/sendwave/sendwave-backend/internal/provider"
    "github.com/sendwave/sendwave-backend/internal/queue"
    "github.com/sendwave/sendwave-backend/internal/ratelimit"
    "github.com/sendwave/sendwave-backend/internal/repository"
)

// Dispatcher drains dispatch jobs with a pool of workers, pushing each send
// through the per-account rate limiter and the provider gateway, and writes
// every outcome straight to the recipient store. All per-recipient failure
// handling is local; only systemic faults escalate to the campaign.
type Dispatcher struct {
    RecipientRepo repository.RecipientRepositoryInterface
    CampaignRepo  repository.CampaignRepositoryInterface
    Gateway       provider.Gateway
    Limiter       *ratelimit.Limiter
    Queue         queue.Queue
    Controller    *CampaignService
    Broadcaster   events.Broadcaster
    Progress      *events.ProgressTracker

    Workers     int
    MaxAttempts int
    SendTimeout time.Duration
    BaseBackoff time.Duration
    PauseRetry  time.Duration
}

// Run consumes the dispatch queue until ctx is cancelled. In-flight sends
// finish; nothing new is dequeued afterwards.
func (d *Dispatcher) Run(ctx context.Context) error {
    msgs, err := d.Queue.Consume(ctx, queue.TopicDispatch)
    if err != nil {
        return err
    }

    workers := d.Workers
    if workers < 1 {
        workers = 1
    }

    var wg sync.WaitGroup
    for i := 0; i < workers; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for msg := range msgs {
                d.handle(ctx, msg)
            }
        }()
    }
    wg.Wait()
    return nil
}

func (d *Dispatcher) handle(ctx context.Context, msg queue.Message) {
    var job queue.DispatchJob
    if err := json.Unmarshal(msg.Body(), &job); err != nil {
        log.Println("⚠️ dropping malformed dispatch job:", err)
        msg.Ack()
        return
    }

    campaign, err := d.CampaignRepo.GetByID(job.CampaignID)
    if err != nil {
        log.Println("⚠️ failed to load campaign", job.CampaignID, ":", err)
        msg.Nack(true)
        return
    }

    switch campaign.Status {
    case model.CampaignRunning:
        // proceed
    case model.CampaignPaused:
        // keep the item durable, look again after the pause-poll interval
        d.republishLater(job, d.pauseRetry())
        msg.Ack()
        return
    default:
        // cancelled, failed or completed: nothing left to send here
        msg.Ack()
        return
    }

    recipient, err := d.RecipientRepo.GetByID(job.RecipientID)
    if err != nil {
        log.Println("⚠️ failed to load recipient", job.RecipientID, ":", err)
        msg.Nack(true)
        return
    }
    if recipient == nil {
        log.Println("⚠️ dispatch job for unknown recipient", job.RecipientID)
        msg.Ack()
        return
    }

    claimed, err := d.RecipientRepo.ClaimForSending(recipient.ID)
    if err != nil {
        log.Println("⚠️ failed to claim recipient", recipient.ID, ":", err)
        msg.Nack(true)
        return
    }
    if !claimed {
        // duplicate job, or the recipient went terminal (e.g. cancelled)
        msg.Ack()
        return
    }

    if err := d.Limiter.Acquire(ctx, campaign.SenderAccount); err != nil {
        // shutdown while waiting for a token: give the claim back, recovery
        // or redelivery picks it up
        if _, err := d.RecipientRepo.ReleaseClaim(recipient.ID); err != nil {
            log.Println("⚠️ failed to release claim on recipient", recipient.ID, ":", err)
        }
        msg.Nack(true)
        return
    }

    sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout())
    providerMessageID, sendErr := d.Gateway.Send(sendCtx, recipient.Destination, recipient.RenderedContent, campaign.SenderAccount)
    cancel()

    if sendErr == nil {
        d.recordSent(campaign.ID, recipient.ID, providerMessageID)
        msg.Ack()
        return
    }

    switch provider.Classify(sendErr) {
    case provider.KindSystemic:
        // the account is broken, not this recipient: put the claim back and
        // stop the whole campaign
        if _, err := d.RecipientRepo.ReleaseClaim(recipient.ID); err != nil {
            log.Println("⚠️ failed to release claim on recipient", recipient.ID, ":", err)
        }
        if d.Controller != nil {
            if err := d.Controller.Fail(campaign.ID, sendErr.Error()); err != nil {
                log.Println("⚠️ failed to fail campaign", campaign.ID, ":", err)
            }
        }
        msg.Ack()

    case provider.KindPermanent:
        d.recordFailed(campaign.ID, recipient.ID, sendErr)
        msg.Ack()

    default: // transient
        attempt := recipient.AttemptCount + 1
        if attempt >= d.maxAttempts() {
            d.recordFailed(campaign.ID, recipient.ID, sendErr)
            msg.Ack()
            return
        }
        if ok, err := d.RecipientRepo.Requeue(recipient.ID, sendErr.Error()); err != nil || !ok {
            log.Println("⚠️ failed to requeue recipient", recipient.ID, ":", err)
            msg.Ack()
            return
        }
        d.republishLater(queue.DispatchJob{
            RecipientID: recipient.ID,
            CampaignID:  campaign.ID,
            Attempt:     attempt,
        }, d.backoff(attempt))
        msg.Ack()
    }
}

func (d *Dispatcher) recordSent(campaignID, recipientID int, providerMessageID string) {
    ok, err := d.RecipientRepo.MarkSent(recipientID, providerMessageID)
    if err != nil {
        log.Println("⚠️ failed to record sent for recipient", recipientID, ":", err)
        return
    }
    if !ok {
        return
    }
    if err := d.CampaignRepo.IncrementSent(campaignID); err != nil {
        log.Println("⚠️ failed to bump sent counter for campaign", campaignID, ":", err)
    }
    d.publishRecipient(campaignID, recipientID, model.RecipientSent, "")
    d.noteDispatched(campaignID)
}

func (d *Dispatcher) recordFailed(campaignID, recipientID int, sendErr error) {
    ok, err := d.RecipientRepo.MarkFailed(recipientID, sendErr.Error())
    if err != nil {
        log.Println("⚠️ failed to record failure for recipient", recipientID, ":", err)
        return
    }
    if !ok {
        return
    }
    if err := d.CampaignRepo.IncrementFailed(campaignID); err != nil {
        log.Println("⚠️ failed to bump failed counter for campaign", campaignID, ":", err)
    }
    d.publishRecipient(campaignID, recipientID, model.RecipientFailed, sendErr.Error())
    d.noteDispatched(campaignID)
}

func (d *Dispatcher) noteDispatched(campaignID int) {
    if d.Controller != nil {
        if err := d.Controller.NoteDispatched(campaignID); err != nil {
            log.Println("⚠️ completion check failed for campaign", campaignID, ":", err)
        }
    }
    d.publishProgress(campaignID)
}

func (d *Dispatcher) publishProgress(campaignID int) {
    if d.Broadcaster == nil || d.Progress == nil {
        return
    }
    campaign, err := d.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return
    }
    dispatched := campaign.Sent + campaign.Failed
    pct, crossed := d.Progress.Bucket(campaignID, dispatched, campaign.TotalRecipients)
    if !crossed {
        return
    }
    d.Broadcaster.Publish(events.CampaignProgressEvent{
        CampaignID: campaignID,
        Percent:    pct,
        Dispatched: dispatched,
        Total:      campaign.TotalRecipients,
        At:         time.Now(),
    })
}

func (d *Dispatcher) publishRecipient(campaignID, recipientID int, status, detail string) {
    if d.Broadcaster == nil {
        return
    }
    d.Broadcaster.Publish(events.RecipientStatusEvent{
        CampaignID:  campaignID,
        RecipientID: recipientID,
        Status:      status,
        ErrorDetail: detail,
        At:          time.Now(),
    })
}

// republishLater re-enqueues the job after a delay. If the process dies
// before the timer fires, restart recovery re-derives the job from the
// recipient's queued status.
func (d *Dispatcher) republishLater(job queue.DispatchJob, delay time.Duration) {
    body, err := json.Marshal(job)
    if err != nil {
        log.Println("⚠️ failed to marshal dispatch job for recipient", job.RecipientID, ":", err)
        return
    }
    time.AfterFunc(delay, func() {
        if err := d.Queue.Publish(queue.TopicDispatch, body); err != nil {
            log.Println("⚠️ failed to requeue dispatch job for recipient", job.RecipientID, ":", err)
        }
    })
}

// RecoverInFlight republishes every undispatched recipient of a running
// campaign after a restart: the durable recipient rows are the source of
// truth, not whatever was in memory when the process died. Rows stuck in
// sending get their claim released first.
func (d *Dispatcher) RecoverInFlight() (int, error) {
    rows, err := d.RecipientRepo.ListRecoverable()
    if err != nil {
        return 0, err
    }

    count := 0
    for _, rec := range rows {
        if rec.Status == model.RecipientSending {
            if _, err := d.RecipientRepo.ReleaseClaim(rec.ID); err != nil {
                log.Println("⚠️ failed to release stale claim on recipient", rec.ID, ":", err)
                continue
            }
        }
        body, err := json.Marshal(queue.DispatchJob{
            RecipientID: rec.ID,
            CampaignID:  rec.CampaignID,
            Attempt:     rec.AttemptCount,
        })
        if err != nil {
            return count, err
        }
        if err := d.Queue.Publish(queue.TopicDispatch, body); err != nil {
            log.Println("⚠️ failed to republish recipient", rec.ID, ":", err)
            continue
        }
        if rec.Status == model.RecipientPending {
            if _, err := d.RecipientRepo.MarkQueued(rec.ID); err != nil {
                log.Println("⚠️ failed to mark recipient", rec.ID, "queued:", err)
            }
        }
        count++
    }
    return count, nil
}

func (d *Dispatcher) maxAttempts() int {
    if d.MaxAttempts < 1 {
        return 3
    }
    return d.MaxAttempts
}

func (d *Dispatcher) sendTimeout() time.Duration {
    if d.SendTimeout <= 0 {
        return 10 * time.Second
    }
    return d.SendTimeout
}

func (d *Dispatcher) pauseRetry() time.Duration {
    if d.PauseRetry <= 0 {
        return 2 * time.Second
    }
    return d.PauseRetry
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
    base := d.BaseBackoff
    if base <= 0 {
        base = 500 * time.Millisecond
    }
    delay := base << uint(attempt-1)
    if delay > time.Minute {
        delay = time.Minute
    }
    return delay
}
