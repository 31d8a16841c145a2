// internal/service/campaign_service.go
package service

import (
    "encoding/json"
    "fmt"
    "log"
    "strings"
    "time"

    appErrors "github.com/sendwave/sendwave-backend/internal/errors"
    "github.com/sendwave/sendwave-backend/internal/events"
    "github.com/sendwave/sendwave-backend/internal/model"
    "github.com/sendwave/sendwave-backend/internal/queue"
    "github.com/sendwave/sendwave-backend/internal/repository"
)

// CampaignService owns the campaign state machine. It is the only writer of
// campaign status; every transition is a status-guarded update in the repo,
// so concurrent control calls cannot race each other.
type CampaignService struct {
    CampaignRepo  repository.CampaignRepositoryInterface
    RecipientRepo repository.RecipientRepositoryInterface
    ContactRepo   repository.ContactRepositoryInterface
    Queue         queue.Queue
    Broadcaster   events.Broadcaster
}

// Result struct for Start
type StartResult struct {
    CampaignID      int `json:"campaign_id"`
    TotalRecipients int `json:"total_recipients"`
    Enqueued        int `json:"enqueued"`
}

type CampaignDetails struct {
    ID              int            `json:"id"`
    Name            string         `json:"name"`
    SenderAccount   string         `json:"sender_account"`
    Status          string         `json:"status"`
    BaseTemplate    string         `json:"base_template"`
    TotalRecipients int            `json:"total_recipients"`
    Sent            int            `json:"sent"`
    Delivered       int            `json:"delivered"`
    Read            int            `json:"read"`
    Failed          int            `json:"failed"`
    ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
    CreatedAt       time.Time      `json:"created_at"`
    StartedAt       *time.Time     `json:"started_at,omitempty"`
    CompletedAt     *time.Time     `json:"completed_at,omitempty"`
    Stats           map[string]int `json:"stats"`
}

func (s *CampaignService) CreateCampaign(name, senderAccount, baseTemplate string, scheduledAt *string) (*model.Campaign, error) {
    if strings.TrimSpace(baseTemplate) == "" {
        return nil, fmt.Errorf("template cannot be empty")
    }

    c := &model.Campaign{
        Name:          name,
        SenderAccount: senderAccount,
        BaseTemplate:  baseTemplate,
        Status:        model.CampaignDraft,
    }

    if scheduledAt != nil {
        t, err := time.Parse(time.RFC3339, *scheduledAt)
        if err != nil {
            return nil, err
        }
        c.ScheduledAt = &t
        c.Status = model.CampaignScheduled
    }

    if err := s.CampaignRepo.Create(c); err != nil {
        return nil, err
    }

    return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }
    if pageSize > 100 {
        pageSize = 100
    }
    offset := (page - 1) * pageSize

    ptrs, total, err := s.CampaignRepo.List(offset, pageSize, status)
    if err != nil {
        return nil, nil, err
    }

    campaigns := make([]model.Campaign, len(ptrs))
    for i, c := range ptrs {
        campaigns[i] = *c
    }

    totalPages := (total + pageSize - 1) / pageSize
    pagination := map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": totalPages,
    }

    return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(campaignID int) (*CampaignDetails, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return nil, err
    }

    stats, err := s.RecipientRepo.GetStats(campaignID)
    if err != nil {
        return nil, err
    }

    return &CampaignDetails{
        ID:              campaign.ID,
        Name:            campaign.Name,
        SenderAccount:   campaign.SenderAccount,
        Status:          campaign.Status,
        BaseTemplate:    campaign.BaseTemplate,
        TotalRecipients: campaign.TotalRecipients,
        Sent:            campaign.Sent,
        Delivered:       campaign.Delivered,
        Read:            campaign.Read,
        Failed:          campaign.Failed,
        ScheduledAt:     campaign.ScheduledAt,
        CreatedAt:       campaign.CreatedAt,
        StartedAt:       campaign.StartedAt,
        CompletedAt:     campaign.CompletedAt,
        Stats:           stats,
    }, nil
}

// RenderPreview renders the campaign template against one contact, optionally
// with an override template.
func (s *CampaignService) RenderPreview(campaignID, contactID int, overrideTemplate *string) (string, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return "", err
    }

    contact, err := s.ContactRepo.GetByID(contactID)
    if err != nil {
        return "", err
    }
    if contact == nil {
        return "", fmt.Errorf("contact not found")
    }

    template := campaign.BaseTemplate
    if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
        template = *overrideTemplate
    }
    if strings.TrimSpace(template) == "" {
        return "", fmt.Errorf("template cannot be empty")
    }

    return RenderTemplate(template, contact.Variables), nil
}

// ====================== State machine ======================

// Start materializes the recipient rows exactly once from the resolved
// contact list, fixes total_recipients, and enqueues a dispatch job per
// recipient. Re-starting an already-started campaign is rejected.
func (s *CampaignService) Start(campaignID int) (*StartResult, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return nil, err
    }
    if campaign.StartedAt != nil {
        return nil, appErrors.NewCampaignAlreadyStarted(campaignID)
    }
    if campaign.Status != model.CampaignDraft && campaign.Status != model.CampaignScheduled {
        return nil, appErrors.NewInvalidTransition(campaign.Status, model.CampaignRunning)
    }

    contacts, err := s.ContactRepo.ListForCampaign(campaignID)
    if err != nil {
        return nil, err
    }
    if len(contacts) == 0 {
        return nil, fmt.Errorf("campaign %d has no resolved contacts", campaignID)
    }

    recipients := make([]*model.Recipient, 0, len(contacts))
    for _, contact := range contacts {
        recipients = append(recipients, &model.Recipient{
            CampaignID:      campaignID,
            ContactID:       contact.ID,
            Destination:     contact.Destination,
            RenderedContent: RenderTemplate(campaign.BaseTemplate, contact.Variables),
            Status:          model.RecipientPending,
        })
    }
    if err := s.RecipientRepo.BulkCreate(recipients); err != nil {
        return nil, err
    }

    ok, err := s.CampaignRepo.MarkStarted(campaignID, len(contacts))
    if err != nil {
        return nil, err
    }
    if !ok {
        // lost the race to a concurrent start
        return nil, appErrors.NewCampaignAlreadyStarted(campaignID)
    }

    enqueued, err := s.enqueueUndispatched(campaignID)
    if err != nil {
        return nil, err
    }

    s.publishStatus(campaignID, model.CampaignRunning)
    log.Println("🚀 Campaign", campaignID, "started:", len(contacts), "recipients,", enqueued, "enqueued")

    return &StartResult{
        CampaignID:      campaignID,
        TotalRecipients: len(contacts),
        Enqueued:        enqueued,
    }, nil
}

// Pause stops dequeuing; in-flight sends finish. Pausing a paused campaign is
// an idempotent no-op.
func (s *CampaignService) Pause(campaignID int) error {
    return s.transition(campaignID, model.CampaignPaused, []string{model.CampaignRunning})
}

// Resume re-opens the queue and republishes anything still undispatched, in
// case a pause-era job got lost with a process.
func (s *CampaignService) Resume(campaignID int) error {
    if err := s.transition(campaignID, model.CampaignRunning, []string{model.CampaignPaused}); err != nil {
        return err
    }
    if _, err := s.enqueueUndispatched(campaignID); err != nil {
        log.Println("⚠️ resume requeue failed for campaign", campaignID, ":", err)
    }
    return nil
}

// Cancel stops dispatch and marks every undispatched recipient cancelled
// without contacting the provider. Already-sent recipients keep tracking.
func (s *CampaignService) Cancel(campaignID int) error {
    if err := s.transition(campaignID, model.CampaignCancelled, []string{
        model.CampaignDraft, model.CampaignScheduled, model.CampaignRunning, model.CampaignPaused,
    }); err != nil {
        return err
    }

    n, err := s.RecipientRepo.CancelPending(campaignID)
    if err != nil {
        return err
    }
    if n > 0 {
        log.Println("🛑 Cancelled", n, "undispatched recipients for campaign", campaignID)
    }
    return nil
}

// Fail is for systemic faults only: the sending account itself is broken, so
// further sends are certain to fail. Individual recipients are never failed
// for a systemic cause.
func (s *CampaignService) Fail(campaignID int, reason string) error {
    if err := s.transition(campaignID, model.CampaignFailed, []string{model.CampaignRunning, model.CampaignPaused}); err != nil {
        return err
    }
    log.Println("❌ Campaign", campaignID, "failed:", reason)
    return nil
}

// NoteDispatched is called after every terminal dispatch outcome. Dispatch
// completion does not wait for delivery receipts, which may arrive
// indefinitely later.
func (s *CampaignService) NoteDispatched(campaignID int) error {
    remaining, err := s.RecipientRepo.CountUndispatched(campaignID)
    if err != nil {
        return err
    }
    if remaining > 0 {
        return nil
    }
    ok, err := s.CampaignRepo.MarkCompleted(campaignID)
    if err != nil {
        return err
    }
    if ok {
        s.publishStatus(campaignID, model.CampaignCompleted)
        log.Println("🏁 Campaign", campaignID, "dispatch complete")
    }
    return nil
}

// transition performs one status-guarded campaign transition. A repeated call
// that finds the target state already in place succeeds without doing
// anything; anything else off the allowed list is a rejection.
func (s *CampaignService) transition(campaignID int, to string, from []string) error {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return err
    }
    if campaign.Status == to {
        return nil
    }

    ok, err := s.CampaignRepo.CASStatus(campaignID, from, to)
    if err != nil {
        return err
    }
    if !ok {
        // a concurrent transition may have landed the target state already
        current, err := s.CampaignRepo.GetByID(campaignID)
        if err != nil {
            return err
        }
        if current.Status == to {
            return nil
        }
        return appErrors.NewInvalidTransition(current.Status, to)
    }

    s.publishStatus(campaignID, to)
    return nil
}

// enqueueUndispatched publishes a dispatch job for every recipient that has
// not reached a dispatch outcome. Safe to repeat: the sending claim is a
// compare-and-set, duplicate jobs ack out.
func (s *CampaignService) enqueueUndispatched(campaignID int) (int, error) {
    rows, err := s.RecipientRepo.ListUndispatched(campaignID)
    if err != nil {
        return 0, err
    }

    count := 0
    for _, rec := range rows {
        if rec.Status == model.RecipientSending {
            continue // in flight with a worker right now
        }
        body, err := json.Marshal(queue.DispatchJob{
            RecipientID: rec.ID,
            CampaignID:  campaignID,
            Attempt:     rec.AttemptCount,
        })
        if err != nil {
            return count, err
        }
        if err := s.Queue.Publish(queue.TopicDispatch, body); err != nil {
            log.Println("⚠️ failed to enqueue recipient", rec.ID, ":", err)
            continue
        }
        if rec.Status == model.RecipientPending {
            if _, err := s.RecipientRepo.MarkQueued(rec.ID); err != nil {
                log.Println("⚠️ failed to mark recipient", rec.ID, "queued:", err)
            }
        }
        count++
    }
    return count, nil
}

func (s *CampaignService) publishStatus(campaignID int, status string) {
    if s.Broadcaster == nil {
        return
    }
    s.Broadcaster.Publish(events.CampaignStatusEvent{
        CampaignID: campaignID,
        Status:     status,
        At:         time.Now(),
    })
}
