package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	appErrors "github.com/sendwave/sendwave-backend/internal/errors"
	"github.com/sendwave/sendwave-backend/internal/events"
	"github.com/sendwave/sendwave-backend/internal/model"
	"github.com/sendwave/sendwave-backend/internal/queue"
	"github.com/sendwave/sendwave-backend/internal/ratelimit"
	"github.com/sendwave/sendwave-backend/internal/repository"
	"github.com/sendwave/sendwave-backend/internal/service"
)

// --- In-memory campaign repo with the same CAS semantics as the SQL one ---

type memCampaignRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[int]*model.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{rows: make(map[int]*model.Campaign)}
}

func (m *memCampaignRepo) Create(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c.ID = m.seq
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.SenderAccount == "" {
		c.SenderAccount = "default"
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaignRepo) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range m.rows {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memCampaignRepo) CASStatus(id int, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memCampaignRepo) MarkStarted(id, totalRecipients int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.StartedAt != nil {
		return false, nil
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignRunning
	c.TotalRecipients = totalRecipients
	c.StartedAt = &now
	return true, nil
}

func (m *memCampaignRepo) MarkCompleted(id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Status != model.CampaignRunning {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignCompleted
	c.CompletedAt = &now
	return true, nil
}

func (m *memCampaignRepo) IncrementSent(id int) error      { return m.bump(id, func(c *model.Campaign) { c.Sent++ }) }
func (m *memCampaignRepo) IncrementDelivered(id int) error { return m.bump(id, func(c *model.Campaign) { c.Delivered++ }) }
func (m *memCampaignRepo) IncrementRead(id int) error      { return m.bump(id, func(c *model.Campaign) { c.Read++ }) }
func (m *memCampaignRepo) IncrementFailed(id int) error    { return m.bump(id, func(c *model.Campaign) { c.Failed++ }) }

func (m *memCampaignRepo) bump(id int, f func(*model.Campaign)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("campaign %d not found", id)
	}
	f(c)
	return nil
}

var _ repository.CampaignRepositoryInterface = (*memCampaignRepo)(nil)

// --- In-memory recipient repo ---

type memRecipientRepo struct {
	mu        sync.Mutex
	seq       int
	rows      map[int]*model.Recipient
	campaigns *memCampaignRepo
}

func newMemRecipientRepo(campaigns *memCampaignRepo) *memRecipientRepo {
	return &memRecipientRepo{rows: make(map[int]*model.Recipient), campaigns: campaigns}
}

func (m *memRecipientRepo) BulkCreate(recipients []*model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recipients {
		exists := false
		for _, row := range m.rows {
			if row.CampaignID == rec.CampaignID && row.ContactID == rec.ContactID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		m.seq++
		rec.ID = m.seq
		if rec.Status == "" {
			rec.Status = model.RecipientPending
		}
		rec.CreatedAt = time.Now()
		rec.UpdatedAt = rec.CreatedAt
		cp := *rec
		m.rows[rec.ID] = &cp
	}
	return nil
}

func (m *memRecipientRepo) GetByID(id int) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecipientRepo) GetByProviderMessageID(pmid string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		if rec.ProviderMessageID == pmid && pmid != "" {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRecipientRepo) cas(id int, from []string, to string, mutate func(*model.Recipient)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if rec.Status == f {
			rec.Status = to
			rec.UpdatedAt = time.Now()
			if mutate != nil {
				mutate(rec)
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memRecipientRepo) MarkQueued(id int) (bool, error) {
	return m.cas(id, []string{model.RecipientPending}, model.RecipientQueued, nil)
}

func (m *memRecipientRepo) ClaimForSending(id int) (bool, error) {
	return m.cas(id, []string{model.RecipientPending, model.RecipientQueued}, model.RecipientSending, nil)
}

func (m *memRecipientRepo) MarkSent(id int, pmid string) (bool, error) {
	return m.cas(id, []string{model.RecipientSending}, model.RecipientSent, func(rec *model.Recipient) {
		rec.ProviderMessageID = pmid
		rec.AttemptCount++
		rec.LastError = ""
	})
}

func (m *memRecipientRepo) MarkFailed(id int, lastError string) (bool, error) {
	return m.cas(id, []string{model.RecipientSending}, model.RecipientFailed, func(rec *model.Recipient) {
		rec.AttemptCount++
		rec.LastError = lastError
	})
}

func (m *memRecipientRepo) Requeue(id int, lastError string) (bool, error) {
	return m.cas(id, []string{model.RecipientSending}, model.RecipientQueued, func(rec *model.Recipient) {
		rec.AttemptCount++
		rec.LastError = lastError
	})
}

func (m *memRecipientRepo) ReleaseClaim(id int) (bool, error) {
	return m.cas(id, []string{model.RecipientSending}, model.RecipientQueued, nil)
}

func (m *memRecipientRepo) AdvanceDeliveryStatus(pmid, status, errorCode string) (string, bool, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		if rec.ProviderMessageID != pmid || pmid == "" {
			continue
		}
		for _, f := range from {
			if rec.Status == f {
				prev := rec.Status
				rec.Status = status
				rec.UpdatedAt = time.Now()
				if errorCode != "" {
					rec.LastError = errorCode
				}
				return prev, true, nil
			}
		}
		return "", false, nil
	}
	return "", false, nil
}

func (m *memRecipientRepo) CancelPending(campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.rows {
		if rec.CampaignID != campaignID {
			continue
		}
		if rec.Status == model.RecipientPending || rec.Status == model.RecipientQueued {
			rec.Status = model.RecipientCancelled
			n++
		}
	}
	return n, nil
}

func (m *memRecipientRepo) CountUndispatched(campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.rows {
		if rec.CampaignID == campaignID && undispatched(rec.Status) {
			n++
		}
	}
	return n, nil
}

func (m *memRecipientRepo) ListUndispatched(campaignID int) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Recipient{}
	for _, rec := range m.rows {
		if rec.CampaignID == campaignID && undispatched(rec.Status) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRecipientRepo) ListRecoverable() ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Recipient{}
	for _, rec := range m.rows {
		if !undispatched(rec.Status) {
			continue
		}
		if m.campaigns != nil {
			c, err := m.campaigns.GetByID(rec.CampaignID)
			if err != nil || c.Status != model.CampaignRunning {
				continue
			}
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRecipientRepo) GetStats(campaignID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{"total": 0}
	for _, rec := range m.rows {
		if rec.CampaignID != campaignID {
			continue
		}
		stats[rec.Status]++
		stats["total"]++
	}
	return stats, nil
}

func undispatched(status string) bool {
	return status == model.RecipientPending || status == model.RecipientQueued || status == model.RecipientSending
}

var _ repository.RecipientRepositoryInterface = (*memRecipientRepo)(nil)

// --- Contact repo stub ---

type memContactRepo struct {
	byCampaign map[int][]model.Contact
}

func (m *memContactRepo) GetByID(id int) (*model.Contact, error) {
	for _, contacts := range m.byCampaign {
		for _, c := range contacts {
			if c.ID == id {
				return &c, nil
			}
		}
	}
	return nil, nil
}

func (m *memContactRepo) ListForCampaign(campaignID int) ([]model.Contact, error) {
	return m.byCampaign[campaignID], nil
}

var _ repository.ContactRepositoryInterface = (*memContactRepo)(nil)

// --- Scriptable gateway: queued errors per destination, success otherwise ---

type scriptGateway struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
}

func newScriptGateway() *scriptGateway {
	return &scriptGateway{scripts: make(map[string][]error), calls: make(map[string]int)}
}

func (g *scriptGateway) script(destination string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[destination] = append(g.scripts[destination], errs...)
}

func (g *scriptGateway) Send(ctx context.Context, destination, content, account string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[destination]++
	if q := g.scripts[destination]; len(q) > 0 {
		err := q[0]
		g.scripts[destination] = q[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("pm-%s-%d", destination, g.calls[destination]), nil
}

func (g *scriptGateway) callCount(destination string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[destination]
}

func (g *scriptGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// --- Capturing broadcaster ---

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *captureBroadcaster) Publish(ev events.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *captureBroadcaster) byType(eventType string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []events.Event{}
	for _, ev := range b.events {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// --- Test rig wiring the real service, dispatcher and correlator together ---

type rig struct {
	campaigns  *memCampaignRepo
	recipients *memRecipientRepo
	contacts   *memContactRepo
	gateway    *scriptGateway
	queue      *queue.MemQueue
	events     *captureBroadcaster
	svc        *service.CampaignService
	dispatcher *service.Dispatcher
	correlator *service.Correlator
}

func newRig(destinations ...string) *rig {
	campaigns := newMemCampaignRepo()
	recipients := newMemRecipientRepo(campaigns)
	contacts := &memContactRepo{byCampaign: make(map[int][]model.Contact)}
	gw := newScriptGateway()
	q := queue.NewMemQueue()
	bc := &captureBroadcaster{}

	svc := &service.CampaignService{
		CampaignRepo:  campaigns,
		RecipientRepo: recipients,
		ContactRepo:   contacts,
		Queue:         q,
		Broadcaster:   bc,
	}

	r := &rig{
		campaigns:  campaigns,
		recipients: recipients,
		contacts:   contacts,
		gateway:    gw,
		queue:      q,
		events:     bc,
		svc:        svc,
		dispatcher: &service.Dispatcher{
			RecipientRepo: recipients,
			CampaignRepo:  campaigns,
			Gateway:       gw,
			Limiter:       ratelimit.New(1000, 1000),
			Queue:         q,
			Controller:    svc,
			Broadcaster:   bc,
			Progress:      events.NewProgressTracker(),
			Workers:       2,
			MaxAttempts:   3,
			SendTimeout:   time.Second,
			BaseBackoff:   5 * time.Millisecond,
			PauseRetry:    10 * time.Millisecond,
		},
		correlator: &service.Correlator{
			RecipientRepo:  recipients,
			CampaignRepo:   campaigns,
			Queue:          q,
			Broadcaster:    bc,
			LookupAttempts: 2,
			LookupBackoff:  time.Millisecond,
		},
	}

	// a draft campaign with one recipient per destination
	c := &model.Campaign{Name: "test", SenderAccount: "acct-1", BaseTemplate: "Hi {first_name}!"}
	_ = campaigns.Create(c)
	for i, dest := range destinations {
		contacts.byCampaign[c.ID] = append(contacts.byCampaign[c.ID], model.Contact{
			ID:          i + 1,
			Destination: dest,
			Variables:   map[string]string{"first_name": fmt.Sprintf("Contact%d", i+1)},
		})
	}
	return r
}

func (r *rig) campaignID() int { return 1 }

func (r *rig) campaign(t *testing.T) *model.Campaign {
	t.Helper()
	c, err := r.campaigns.GetByID(r.campaignID())
	if err != nil {
		t.Fatalf("campaign lookup failed: %v", err)
	}
	return c
}

func (r *rig) runDispatcher(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := r.dispatcher.Run(ctx); err != nil {
			t.Error("dispatcher stopped with error:", err)
		}
	}()
	return cancel
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
