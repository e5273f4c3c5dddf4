package venues

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
)

// Aggregator tries venues in priority order and returns the first usable
// quote. It owns the request generation counter: every change to the
// (fromToken, toToken, amountIn) key bumps the generation, and results
// carrying an older generation are stale and must be dropped, never merged
// into live state.
type Aggregator struct {
	bridge Venue
	amms   map[string]Venue
	log    zerolog.Logger

	mu         sync.Mutex
	generation uint64
	currentKey string
}

func NewAggregator(bridge Venue, amms []Venue, log zerolog.Logger) *Aggregator {
	byName := make(map[string]Venue, len(amms))
	for _, v := range amms {
		byName[v.Name()] = v
	}
	return &Aggregator{
		bridge: bridge,
		amms:   byName,
		log:    log.With().Str("component", "aggregator").Logger(),
	}
}

func requestKey(req QuoteRequest) string {
	amount := "0"
	if req.AmountIn != nil {
		amount = req.AmountIn.String()
	}
	return strings.Join([]string{
		req.FromToken.Network, req.FromToken.Address,
		req.ToToken.Network, req.ToToken.Address,
		amount,
	}, "|")
}

// Begin registers the request inputs and returns the generation that any
// resulting quote must carry to be applied. Re-registering identical inputs
// keeps the current generation, so an unrelated refresh does not invalidate
// an in-flight fetch.
func (a *Aggregator) Begin(req QuoteRequest) uint64 {
	key := requestKey(req)
	a.mu.Lock()
	defer a.mu.Unlock()
	if key != a.currentKey {
		a.generation++
		a.currentKey = key
	}
	return a.generation
}

// Current reports whether a generation is still the live one.
func (a *Aggregator) Current(generation uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return generation == a.generation
}

// Accept returns the quote unchanged when its generation is current, and a
// StaleQuote error otherwise. Stale quotes are a normal race outcome and are
// never surfaced to the user.
func (a *Aggregator) Accept(quote model.Quote) (model.Quote, error) {
	if !a.Current(quote.Generation) {
		return model.Quote{}, swaperr.New(swaperr.CodeStaleQuote, "quote superseded by newer request")
	}
	return quote, nil
}

// Quote classifies the request and walks the applicable venues in priority
// order. A venue failure is not retried within that venue; the aggregator
// moves on. When every venue fails, the NoRoute error carries the union of
// the per-venue reasons.
func (a *Aggregator) Quote(ctx context.Context, req QuoteRequest) (model.Quote, error) {
	generation := a.Begin(req)
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return model.Quote{}, swaperr.New(swaperr.CodeInvalidAmount, "quote requires a positive input amount")
	}

	class := Classify(req)
	order := a.venueOrder(class, req)
	if len(order) == 0 {
		return model.Quote{}, swaperr.New(swaperr.CodeNoRoute, fmt.Sprintf("no venue serves %s routes on %s", class, req.FromNetwork.CAIP2))
	}

	reasons := make([]string, 0, len(order))
	for _, venue := range order {
		if !venue.Supports(req) {
			reasons = append(reasons, fmt.Sprintf("%s: pair not supported", venue.Name()))
			continue
		}
		quote, err := venue.Quote(ctx, req)
		if err != nil {
			a.log.Debug().Str("venue", venue.Name()).Err(err).Msg("venue quote failed, trying next")
			reasons = append(reasons, fmt.Sprintf("%s: %v", venue.Name(), err))
			continue
		}
		if quote.ExpectedOut == nil || quote.ExpectedOut.Sign() <= 0 {
			reasons = append(reasons, fmt.Sprintf("%s: zero output", venue.Name()))
			continue
		}
		quote.Generation = generation
		a.log.Info().
			Str("venue", venue.Name()).
			Str("class", string(class)).
			Str("amount_in", req.AmountIn.String()).
			Str("expected_out", quote.ExpectedOut.String()).
			Msg("quote selected")
		return quote, nil
	}

	return model.Quote{}, swaperr.New(swaperr.CodeNoRoute, "no route available: "+strings.Join(reasons, "; "))
}

func (a *Aggregator) venueOrder(class RouteClass, req QuoteRequest) []Venue {
	switch class {
	case RouteSameNetwork:
		order := make([]Venue, 0, len(a.amms)+1)
		for _, name := range registry.AMMVenuePriorityFor(req.FromNetwork.CAIP2) {
			if v, ok := a.amms[name]; ok {
				order = append(order, v)
			}
		}
		// Networks with no local venue coverage fall back to the bridge
		// aggregator.
		if len(order) == 0 && a.bridge != nil {
			order = append(order, a.bridge)
		}
		return order
	default:
		if a.bridge == nil {
			return nil
		}
		return []Venue{a.bridge}
	}
}

// VenueByName resolves a venue from a previously selected quote, for
// pre-submit revalidation and swap construction.
func (a *Aggregator) VenueByName(name string) (Venue, bool) {
	if a.bridge != nil && a.bridge.Name() == name {
		return a.bridge, true
	}
	v, ok := a.amms[name]
	return v, ok
}
