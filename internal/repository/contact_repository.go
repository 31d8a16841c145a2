package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/sendwave/sendwave-backend/internal/model"
)

// ContactRepositoryInterface is the contact-list resolution boundary: it
// hands the core an already-deduplicated, validated list of destinations and
// template variables. The core never re-validates addresses.
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	ListForCampaign(campaignID int) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `
        SELECT id, destination, variables
        FROM contacts
        WHERE id = $1
    `
	row := r.DB.QueryRow(query, id)

	var c model.Contact
	var raw []byte
	if err := row.Scan(&c.ID, &c.Destination, &raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	if err := unmarshalVariables(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListForCampaign fetches the resolved contact list for a campaign
func (r *ContactRepository) ListForCampaign(campaignID int) ([]model.Contact, error) {
	query := `
        SELECT c.id, c.destination, c.variables
        FROM contacts c
        JOIN campaign_contacts cc ON cc.contact_id = c.id
        WHERE cc.campaign_id = $1
        ORDER BY c.id
    `
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		var raw []byte
		if err := rows.Scan(&c.ID, &c.Destination, &raw); err != nil {
			return nil, err
		}
		if err := unmarshalVariables(raw, &c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func unmarshalVariables(raw []byte, c *model.Contact) error {
	c.Variables = map[string]string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &c.Variables)
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
