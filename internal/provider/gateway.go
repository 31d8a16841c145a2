// internal/provider/gateway.go
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds form the closed taxonomy every provider failure is normalized
// into at this boundary; downstream logic only ever switches on these.
const (
	// KindTransient: timeout, provider rate limit, 5xx. Retry with backoff.
	KindTransient = "transient"
	// KindPermanent: invalid destination, rejected template, payload too
	// large. The recipient fails immediately, no retry.
	KindPermanent = "permanent"
	// KindSystemic: the sending account itself is broken (auth revoked,
	// account disabled). Further sends are certain to fail, so the whole
	// campaign dispatch stops.
	KindSystemic = "systemic"
)

// SendError is the normalized provider failure. Code is the provider's
// machine-readable error code (or a synthesized http_NNN).
type SendError struct {
	Kind    string
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("provider send failed (%s/%s): %s", e.Kind, e.Code, e.Message)
}

// Classify returns the error kind of a send failure. Errors that did not come
// through the gateway boundary (raw network faults, timeouts) count as
// transient: the send may well succeed on retry.
func Classify(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// Gateway is the thin adapter around the external messaging API. Send blocks
// for at most the context deadline and returns the provider message id from
// the synchronous acknowledgment; delivery outcomes arrive later via webhook.
type Gateway interface {
	Send(ctx context.Context, destination, content, account string) (string, error)
}
