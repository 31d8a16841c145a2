// internal/events/progress.go
package events

import "sync"

// ProgressTracker folds per-recipient dispatch outcomes into percentage
// buckets: Bucket says whether the given completion crossed a new whole
// percentage point for the campaign.
type ProgressTracker struct {
	mu   sync.Mutex
	last map[int]int
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{last: make(map[int]int)}
}

func (p *ProgressTracker) Bucket(campaignID, done, total int) (int, bool) {
	if total <= 0 {
		return 0, false
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.last[campaignID]; ok && pct <= last {
		return pct, false
	}
	p.last[campaignID] = pct
	return pct, true
}

// Forget drops the campaign's bucket state once it is terminal.
func (p *ProgressTracker) Forget(campaignID int) {
	p.mu.Lock()
	delete(p.last, campaignID)
	p.mu.Unlock()
}
