// Package rates resolves exchange rates for order amount conversion. A rate
// is the price of one BTC expressed in the requested currency.
package rates

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoRate is returned when no configured adapter can answer for a currency.
var ErrNoRate = errors.New("no exchange rate available")

// Adapter fetches the current rate for a currency from one source.
type Adapter interface {
	Name() string
	RateFor(ctx context.Context, currency string) (float64, error)
}

// FirstAvailable walks the adapters in their configured order and returns the
// first rate obtained. Failing adapters are skipped; if all fail the last
// error is attached to ErrNoRate.
func FirstAvailable(ctx context.Context, adapters []Adapter, currency string) (float64, error) {
	var lastErr error
	for _, a := range adapters {
		rate, err := a.RateFor(ctx, currency)
		if err != nil {
			lastErr = err
			continue
		}
		if rate > 0 {
			return rate, nil
		}
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w for %s: %v", ErrNoRate, currency, lastErr)
	}
	return 0, fmt.Errorf("%w for %s", ErrNoRate, currency)
}

// ByNames resolves a gateway's ordered adapter-name list against the set of
// adapters the server has constructed. Unknown names are skipped.
func ByNames(names []string, available map[string]Adapter) []Adapter {
	out := make([]Adapter, 0, len(names))
	for _, n := range names {
		if a, ok := available[n]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Fixed is a static adapter used for tests and fixed-rate deployments.
type Fixed struct {
	AdapterName string
	Rates       map[string]float64
}

func (f *Fixed) Name() string { return f.AdapterName }

func (f *Fixed) RateFor(_ context.Context, currency string) (float64, error) {
	rate, ok := f.Rates[currency]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no rate for %s", ErrNoRate, f.AdapterName, currency)
	}
	return rate, nil
}
