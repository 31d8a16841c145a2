package repository

import (
    "database/sql"
    "fmt"

    "github.com/lib/pq"

    "github.com/sendwave/sendwave-backend/internal/model"
)

// RecipientRepositoryInterface is the durable Recipient Store. Every state
// change is a single status-guarded UPDATE so concurrent workers and the
// correlator can never race a read-then-write, and a recipient can never move
// backwards along the status lattice.
type RecipientRepositoryInterface interface {
    BulkCreate(recipients []*model.Recipient) error
    GetByID(id int) (*model.Recipient, error)
    GetByProviderMessageID(providerMessageID string) (*model.Recipient, error)

    MarkQueued(id int) (bool, error)
    ClaimForSending(id int) (bool, error)
    MarkSent(id int, providerMessageID string) (bool, error)
    MarkFailed(id int, lastError string) (bool, error)
    Requeue(id int, lastError string) (bool, error)
    ReleaseClaim(id int) (bool, error)
    AdvanceDeliveryStatus(providerMessageID, status, errorCode string) (string, bool, error)

    CancelPending(campaignID int) (int, error)
    CountUndispatched(campaignID int) (int, error)
    ListUndispatched(campaignID int) ([]*model.Recipient, error)
    ListRecoverable() ([]*model.Recipient, error)
    GetStats(campaignID int) (map[string]int, error)
}

type RecipientRepository struct {
    DB *sql.DB
}

const recipientColumns = `id, campaign_id, contact_id, destination, rendered_content, status,
        provider_message_id, attempt_count, last_error, created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*model.Recipient, error) {
    var rec model.Recipient
    err := row.Scan(
        &rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Destination, &rec.RenderedContent,
        &rec.Status, &rec.ProviderMessageID, &rec.AttemptCount, &rec.LastError,
        &rec.CreatedAt, &rec.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    return &rec, nil
}

// BulkCreate materializes the recipient rows for a campaign in one
// transaction. The (campaign_id, contact_id) unique key makes it idempotent:
// re-running a partially materialized campaign only fills the gaps.
func (r *RecipientRepository) BulkCreate(recipients []*model.Recipient) error {
    tx, err := r.DB.Begin()
    if err != nil {
        return err
    }
    defer tx.Rollback()

    stmt, err := tx.Prepare(`
        INSERT INTO recipients (campaign_id, contact_id, destination, rendered_content, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
    `)
    if err != nil {
        return err
    }
    defer stmt.Close()

    for _, rec := range recipients {
        if rec.Status == "" {
            rec.Status = model.RecipientPending
        }
        if _, err := stmt.Exec(rec.CampaignID, rec.ContactID, rec.Destination, rec.RenderedContent, rec.Status); err != nil {
            return err
        }
    }

    return tx.Commit()
}

func (r *RecipientRepository) GetByID(id int) (*model.Recipient, error) {
    query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1`
    rec, err := scanRecipient(r.DB.QueryRow(query, id))
    if err == sql.ErrNoRows {
        return nil, nil
    }
    return rec, err
}

func (r *RecipientRepository) GetByProviderMessageID(providerMessageID string) (*model.Recipient, error) {
    query := `SELECT ` + recipientColumns + ` FROM recipients WHERE provider_message_id=$1`
    rec, err := scanRecipient(r.DB.QueryRow(query, providerMessageID))
    if err == sql.ErrNoRows {
        return nil, nil
    }
    return rec, err
}

// ====================== Dispatch transitions ======================

func (r *RecipientRepository) MarkQueued(id int) (bool, error) {
    return r.cas(id, []string{model.RecipientPending}, model.RecipientQueued, "")
}

// ClaimForSending is the at-most-one-in-flight guarantee: only one worker can
// win the pending/queued -> sending update, duplicates drop their job.
func (r *RecipientRepository) ClaimForSending(id int) (bool, error) {
    return r.cas(id, []string{model.RecipientPending, model.RecipientQueued}, model.RecipientSending, "")
}

func (r *RecipientRepository) MarkSent(id int, providerMessageID string) (bool, error) {
    query := `
        UPDATE recipients
        SET status=$1, provider_message_id=$2, attempt_count=attempt_count+1, last_error='', updated_at=NOW()
        WHERE id=$3 AND status=$4
    `
    res, err := r.DB.Exec(query, model.RecipientSent, providerMessageID, id, model.RecipientSending)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

func (r *RecipientRepository) MarkFailed(id int, lastError string) (bool, error) {
    query := `
        UPDATE recipients
        SET status=$1, attempt_count=attempt_count+1, last_error=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4
    `
    res, err := r.DB.Exec(query, model.RecipientFailed, lastError, id, model.RecipientSending)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// Requeue returns a claimed recipient to the queue after a transient provider
// error, charging the attempt.
func (r *RecipientRepository) Requeue(id int, lastError string) (bool, error) {
    query := `
        UPDATE recipients
        SET status=$1, attempt_count=attempt_count+1, last_error=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4
    `
    res, err := r.DB.Exec(query, model.RecipientQueued, lastError, id, model.RecipientSending)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// ReleaseClaim returns a claimed recipient to the queue without charging the
// attempt; used when the send never happened (shutdown, systemic fault).
func (r *RecipientRepository) ReleaseClaim(id int) (bool, error) {
    return r.cas(id, []string{model.RecipientSending}, model.RecipientQueued, "")
}

func (r *RecipientRepository) cas(id int, from []string, to, lastError string) (bool, error) {
    query := `UPDATE recipients SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
    args := []interface{}{to, id, pq.Array(from)}
    if lastError != "" {
        query = `UPDATE recipients SET status=$1, last_error=$4, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
        args = append(args, lastError)
    }
    res, err := r.DB.Exec(query, args...)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// ====================== Delivery transitions ======================

// AdvanceDeliveryStatus applies a provider-reported status if and only if it
// is strictly later than the current one; it returns the previous status and
// whether this call won the transition. Duplicate and out-of-order events
// fall through as no-ops, which is what makes counter bumps gated on the
// returned bool idempotent.
func (r *RecipientRepository) AdvanceDeliveryStatus(providerMessageID, status, errorCode string) (string, bool, error) {
    var from []string
    switch status {
    case model.RecipientDelivered:
        from = []string{model.RecipientSent}
    case model.RecipientRead:
        from = []string{model.RecipientSent, model.RecipientDelivered}
    case model.RecipientFailed:
        from = []string{model.RecipientSent, model.RecipientDelivered, model.RecipientRead}
    default:
        return "", false, fmt.Errorf("unsupported delivery status: %s", status)
    }

    query := `
        WITH prev AS (
            SELECT id, status FROM recipients WHERE provider_message_id=$1 FOR UPDATE
        )
        UPDATE recipients r
        SET status=$2, last_error=CASE WHEN $4 <> '' THEN $4 ELSE r.last_error END, updated_at=NOW()
        FROM prev
        WHERE r.id = prev.id AND prev.status = ANY($3)
        RETURNING prev.status
    `
    var prevStatus string
    err := r.DB.QueryRow(query, providerMessageID, status, pq.Array(from), errorCode).Scan(&prevStatus)
    if err == sql.ErrNoRows {
        return "", false, nil
    }
    if err != nil {
        return "", false, err
    }
    return prevStatus, true, nil
}

// ====================== Bulk operations & queries ======================

// CancelPending moves every not-yet-dispatched recipient to cancelled without
// contacting the provider. Recipients already sent (or in flight) are left
// alone.
func (r *RecipientRepository) CancelPending(campaignID int) (int, error) {
    query := `
        UPDATE recipients SET status=$1, updated_at=NOW()
        WHERE campaign_id=$2 AND status = ANY($3)
    `
    res, err := r.DB.Exec(query, model.RecipientCancelled, campaignID,
        pq.Array([]string{model.RecipientPending, model.RecipientQueued}))
    if err != nil {
        return 0, err
    }
    n, err := res.RowsAffected()
    return int(n), err
}

func (r *RecipientRepository) CountUndispatched(campaignID int) (int, error) {
    query := `SELECT COUNT(*) FROM recipients WHERE campaign_id=$1 AND status = ANY($2)`
    var count int
    err := r.DB.QueryRow(query, campaignID,
        pq.Array([]string{model.RecipientPending, model.RecipientQueued, model.RecipientSending})).Scan(&count)
    return count, err
}

func (r *RecipientRepository) ListUndispatched(campaignID int) ([]*model.Recipient, error) {
    query := `SELECT ` + recipientColumns + `
        FROM recipients
        WHERE campaign_id=$1 AND status = ANY($2)
        ORDER BY id`
    return r.queryRecipients(query, campaignID,
        pq.Array([]string{model.RecipientPending, model.RecipientQueued, model.RecipientSending}))
}

// ListRecoverable re-derives the dispatch queue after a restart: every
// recipient of a running campaign that never reached a dispatch outcome.
func (r *RecipientRepository) ListRecoverable() ([]*model.Recipient, error) {
    query := `SELECT r.id, r.campaign_id, r.contact_id, r.destination, r.rendered_content, r.status,
               r.provider_message_id, r.attempt_count, r.last_error, r.created_at, r.updated_at
        FROM recipients r
        JOIN campaigns c ON c.id = r.campaign_id
        WHERE c.status=$1 AND r.status = ANY($2)
        ORDER BY r.id`
    return r.queryRecipients(query, model.CampaignRunning,
        pq.Array([]string{model.RecipientPending, model.RecipientQueued, model.RecipientSending}))
}

func (r *RecipientRepository) queryRecipients(query string, args ...interface{}) ([]*model.Recipient, error) {
    rows, err := r.DB.Query(query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    recipients := []*model.Recipient{}
    for rows.Next() {
        rec, err := scanRecipient(rows)
        if err != nil {
            return nil, err
        }
        recipients = append(recipients, rec)
    }
    return recipients, rows.Err()
}

func (r *RecipientRepository) GetStats(campaignID int) (map[string]int, error) {
    query := `SELECT status, COUNT(*) FROM recipients WHERE campaign_id=$1 GROUP BY status`
    rows, err := r.DB.Query(query, campaignID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    stats := map[string]int{
        "total":     0,
        "pending":   0,
        "queued":    0,
        "sending":   0,
        "sent":      0,
        "delivered": 0,
        "read":      0,
        "failed":    0,
        "cancelled": 0,
    }
    for rows.Next() {
        var status string
        var count int
        if err := rows.Scan(&status, &count); err != nil {
            return nil, err
        }
        if _, ok := stats[status]; ok {
            stats[status] = count
        }
        stats["total"] += count
    }
    return stats, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
