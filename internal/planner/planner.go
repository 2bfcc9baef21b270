// Package planner builds the per-run dispatch plan.
package planner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

// Store is the read side the planner needs.
type Store interface {
	// FetchEligible returns pending ads for the given cities, freshest
	// first with a stable tie-break, at most perCityCap per city.
	FetchEligible(ctx context.Context, cities []string, perCityCap int) ([]*domain.Ad, error)
}

// Plan is one run's worth of work: an ordered queue per city and the slot
// count shared by every lane. It is built once per trigger and dropped when
// the run completes.
type Plan struct {
	Queues map[string][]*domain.Ad
	Slots  int
}

func (p *Plan) Empty() bool { return p == nil || len(p.Queues) == 0 }

// Total returns the number of ads across all lanes.
func (p *Plan) Total() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, q := range p.Queues {
		n += len(q)
	}
	return n
}

type Planner struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Planner {
	return &Planner{store: store, log: log.With().Str("component", "planner").Logger()}
}

// Plan fetches the eligible batch and groups it by city. Read-only: running
// it twice over an unchanged table yields an identical plan. A store read
// failure aborts planning; the caller decides whether to retry (the next
// scheduled trigger does so naturally).
func (p *Planner) Plan(ctx context.Context, cities []string, perCityCap int) (*Plan, error) {
	ads, err := p.store.FetchEligible(ctx, cities, perCityCap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPlanning, err)
	}

	queues := make(map[string][]*domain.Ad)
	for _, ad := range ads {
		// The store caps per city already; enforce it here too so a
		// misbehaving query can't blow up a run.
		if len(queues[ad.City]) >= perCityCap {
			continue
		}
		queues[ad.City] = append(queues[ad.City], ad)
	}

	slots := 0
	for _, q := range queues {
		if len(q) > slots {
			slots = len(q)
		}
	}

	p.log.Debug().Int("cities", len(queues)).Int("slots", slots).Int("total", len(ads)).Msg("plan built")
	return &Plan{Queues: queues, Slots: slots}, nil
}
