// internal/provider/sim_gateway.go
package provider

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
)

// SimGateway fakes the provider for local runs: most sends succeed and get a
// fresh message id, a small slice fail with a representative transient error.
type SimGateway struct {
	FailureRate float64
}

func NewSimGateway() *SimGateway {
	return &SimGateway{FailureRate: 0.1}
}

func (g *SimGateway) Send(ctx context.Context, destination, content, account string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &SendError{Kind: KindTransient, Code: "timeout", Message: err.Error()}
	}
	if rand.Float64() < g.FailureRate {
		return "", &SendError{Kind: KindTransient, Code: "timeout", Message: "simulated provider timeout"}
	}
	return uuid.NewString(), nil
}

var _ Gateway = (*SimGateway)(nil)
var _ Gateway = (*HTTPGateway)(nil)
