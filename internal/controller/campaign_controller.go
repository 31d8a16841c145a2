// internal/controller/campaign_controller.go
package controller

import (
    "encoding/json"
    "errors"
    "net/http"
    "strconv"

    "github.com/go-chi/chi/v5"

    appErrors "github.com/sendwave/sendwave-backend/internal/errors"
    "github.com/sendwave/sendwave-backend/internal/service"
)

type CampaignController struct {
    CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
    var body struct {
        Name          string  `json:"name"`
        SenderAccount string  `json:"sender_account"`
        BaseTemplate  string  `json:"base_template"`
        ScheduledAt   *string `json:"scheduled_at"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }

    campaign, err := c.CampaignService.CreateCampaign(body.Name, body.SenderAccount, body.BaseTemplate, body.ScheduledAt)
    if err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
    status := r.URL.Query().Get("status")

    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }

    campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, status)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "data":       campaigns,
        "pagination": pagination,
    })
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    details, err := c.CampaignService.GetCampaignDetailsWithStats(id)
    if err != nil {
        writeControlError(w, err)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(details)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    var body struct {
        ContactID        int     `json:"contact_id"`
        OverrideTemplate *string `json:"override_template"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }

    rendered, err := c.CampaignService.RenderPreview(id, body.ContactID, body.OverrideTemplate)
    if err != nil {
        writeControlError(w, err)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "rendered_message": rendered,
        "used_template":    body.OverrideTemplate,
        "contact_id":       body.ContactID,
    })
}

// ====================== Control surface ======================

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    result, err := c.CampaignService.Start(id)
    if err != nil {
        writeControlError(w, err)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(result)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
    c.control(w, r, c.CampaignService.Pause, "paused")
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
    c.control(w, r, c.CampaignService.Resume, "running")
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
    c.control(w, r, c.CampaignService.Cancel, "cancelled")
}

func (c *CampaignController) control(w http.ResponseWriter, r *http.Request, op func(int) error, result string) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    if err := op(id); err != nil {
        writeControlError(w, err)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "campaign_id": id,
        "status":      result,
    })
}

func campaignID(r *http.Request) (int, error) {
    return strconv.Atoi(chi.URLParam(r, "id"))
}

// writeControlError maps state-machine rejections to 409 and missing
// campaigns to 404; a rejection is a response, never a crash.
func writeControlError(w http.ResponseWriter, err error) {
    var notFound *appErrors.ErrCampaignNotFound
    var invalid *appErrors.ErrInvalidTransition
    var started *appErrors.ErrCampaignAlreadyStarted

    switch {
    case errors.As(err, &notFound):
        http.Error(w, err.Error(), http.StatusNotFound)
    case errors.As(err, &invalid), errors.As(err, &started):
        http.Error(w, err.Error(), http.StatusConflict)
    default:
        http.Error(w, err.Error(), http.StatusInternalServerError)
    }
}
