package strategy

import (
	"fmt"
	"time"

	"github.com/yield-vault/internal/asset"
	"github.com/yield-vault/internal/circuitbreaker"
	"github.com/yield-vault/internal/config"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// Factory builds guarded units from bootstrap definitions
type Factory struct {
	Book        *asset.Book
	Breakers    *circuitbreaker.Registry
	CallTimeout time.Duration
	// RemoteRPS paces each remote unit; zero means unpaced
	RemoteRPS float64
}

// Build creates the unit described by spec
func (f *Factory) Build(spec config.StrategySpec) (vault.Strategy, error) {
	id := spec.Address()

	var unit vault.Strategy
	switch spec.Kind {
	case types.KindSimulated:
		unit = NewSimulated(id, f.Book)
	case types.KindRemote:
		opts := []RemoteOption{WithCustody(f.Book)}
		if f.RemoteRPS > 0 {
			opts = append(opts, WithRateLimit(f.RemoteRPS, 1))
		}
		unit = NewRemote(id, spec.Endpoint, opts...)
	default:
		return nil, fmt.Errorf("strategy %s: unknown kind %q", spec.ID, spec.Kind)
	}

	var breaker *circuitbreaker.CircuitBreaker
	if f.Breakers != nil {
		breaker = f.Breakers.Get(id.Hex())
	}
	return NewGuarded(unit, breaker, f.CallTimeout), nil
}
