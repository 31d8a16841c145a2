package repository

import (
    "database/sql"
    "fmt"
    "time"

    "github.com/lib/pq"

    appErrors "github.com/sendwave/sendwave-backend/internal/errors"
    "github.com/sendwave/sendwave-backend/internal/model"
)

type CampaignRepositoryInterface interface {
    Create(c *model.Campaign) error
    GetByID(id int) (*model.Campaign, error)
    List(offset, limit int, status string) ([]*model.Campaign, int, error)

    // Status transitions are status-guarded updates; the bool result says
    // whether this call performed the transition.
    CASStatus(id int, from []string, to string) (bool, error)
    MarkStarted(id, totalRecipients int) (bool, error)
    MarkCompleted(id int) (bool, error)

    // Counter bumps are single-statement increments, never read-modify-write.
    IncrementSent(id int) error
    IncrementDelivered(id int) error
    IncrementRead(id int) error
    IncrementFailed(id int) error
}

type CampaignRepository struct {
    DB *sql.DB
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(c *model.Campaign) error {
    c.CreatedAt = time.Now()
    if c.Status == "" {
        c.Status = model.CampaignDraft
    }
    if c.TenantID == 0 {
        c.TenantID = 1
    }
    if c.SenderAccount == "" {
        c.SenderAccount = "default"
    }
    query := `
        INSERT INTO campaigns (tenant_id, name, sender_account, base_template, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
    return r.DB.QueryRow(query, c.TenantID, c.Name, c.SenderAccount, c.BaseTemplate, c.Status, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
    query := `
        SELECT id, tenant_id, name, sender_account, base_template, status,
               total_recipients, sent, delivered, read, failed,
               scheduled_at, created_at, started_at, completed_at, updated_at
        FROM campaigns WHERE id=$1
    `
    var c model.Campaign
    err := r.DB.QueryRow(query, id).Scan(
        &c.ID, &c.TenantID, &c.Name, &c.SenderAccount, &c.BaseTemplate, &c.Status,
        &c.TotalRecipients, &c.Sent, &c.Delivered, &c.Read, &c.Failed,
        &c.ScheduledAt, &c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    return &c, nil
}

func (r *CampaignRepository) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
    campaigns := []*model.Campaign{}
    query := `
        SELECT id, tenant_id, name, sender_account, base_template, status,
               total_recipients, sent, delivered, read, failed,
               scheduled_at, created_at, started_at, completed_at, updated_at
        FROM campaigns WHERE 1=1`
    args := []interface{}{}
    argPos := 1

    if status != "" {
        query += fmt.Sprintf(" AND status=$%d", argPos)
        args = append(args, status)
        argPos++
    }

    query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
    args = append(args, limit, offset)

    rows, err := r.DB.Query(query, args...)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()

    for rows.Next() {
        c := &model.Campaign{}
        if err := rows.Scan(
            &c.ID, &c.TenantID, &c.Name, &c.SenderAccount, &c.BaseTemplate, &c.Status,
            &c.TotalRecipients, &c.Sent, &c.Delivered, &c.Read, &c.Failed,
            &c.ScheduledAt, &c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
        ); err != nil {
            return nil, 0, err
        }
        campaigns = append(campaigns, c)
    }

    countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
    argsCount := []interface{}{}
    if status != "" {
        countQuery += " AND status=$1"
        argsCount = append(argsCount, status)
    }

    var total int
    if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
        return nil, 0, err
    }

    return campaigns, total, nil
}

// ====================== Status transitions ======================

func (r *CampaignRepository) CASStatus(id int, from []string, to string) (bool, error) {
    query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
    res, err := r.DB.Exec(query, to, id, pq.Array(from))
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// MarkStarted fixes total_recipients and flips the campaign to running. The
// started_at guard makes a second start a no-op even if the row is back in a
// startable-looking state.
func (r *CampaignRepository) MarkStarted(id, totalRecipients int) (bool, error) {
    query := `
        UPDATE campaigns
        SET status=$1, total_recipients=$2, started_at=NOW(), updated_at=NOW()
        WHERE id=$3 AND status = ANY($4) AND started_at IS NULL
    `
    res, err := r.DB.Exec(query, model.CampaignRunning, totalRecipients, id,
        pq.Array([]string{model.CampaignDraft, model.CampaignScheduled}))
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

func (r *CampaignRepository) MarkCompleted(id int) (bool, error) {
    query := `
        UPDATE campaigns
        SET status=$1, completed_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
    res, err := r.DB.Exec(query, model.CampaignCompleted, id, model.CampaignRunning)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// ====================== Counters ======================

func (r *CampaignRepository) IncrementSent(id int) error {
    _, err := r.DB.Exec(`UPDATE campaigns SET sent = sent + 1, updated_at=NOW() WHERE id=$1`, id)
    return err
}

func (r *CampaignRepository) IncrementDelivered(id int) error {
    _, err := r.DB.Exec(`UPDATE campaigns SET delivered = delivered + 1, updated_at=NOW() WHERE id=$1`, id)
    return err
}

func (r *CampaignRepository) IncrementRead(id int) error {
    _, err := r.DB.Exec(`UPDATE campaigns SET read = read + 1, updated_at=NOW() WHERE id=$1`, id)
    return err
}

func (r *CampaignRepository) IncrementFailed(id int) error {
    _, err := r.DB.Exec(`UPDATE campaigns SET failed = failed + 1, updated_at=NOW() WHERE id=$1`, id)
    return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
