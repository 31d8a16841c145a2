// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per sending account, all replenished at the
// same configured rate. Waiters queue on the bucket itself, so fairness is
// whatever the bucket grants first come first served.
type Limiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	accounts map[string]*rate.Limiter
}

func New(perSecond, burst int) *Limiter {
	if perSecond < 1 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perSec:   rate.Limit(perSecond),
		burst:    burst,
		accounts: make(map[string]*rate.Limiter),
	}
}

// Acquire blocks until a token is available for the account or the context is
// cancelled; cancellation returns the token unspent.
func (l *Limiter) Acquire(ctx context.Context, account string) error {
	return l.forAccount(account).Wait(ctx)
}

func (l *Limiter) forAccount(account string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.accounts[account]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.accounts[account] = lim
	}
	return lim
}
