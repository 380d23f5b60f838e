package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	"it8951e/internal/log"
)

// DefaultRefresh is how long fetched feeds are reused before revalidation.
const DefaultRefresh = 15 * time.Minute

// Agenda aggregates the configured feeds into upcoming occurrences. Feeds are
// refetched at most once per Refresh, so it can be called on every update
// tick.
type Agenda struct {
	Fetcher *Fetcher
	Sources []Source
	// Location is the display zone.
	Location *time.Location
	// Horizon is how far ahead of now occurrences are listed.
	Horizon time.Duration
	Refresh time.Duration

	mu      sync.Mutex
	events  []Event
	fetched time.Time
}

// Upcoming returns the occurrences between the start of now's day and
// now+Horizon. A fetch failure with no earlier data is returned as an error;
// otherwise stale events are used.
func (a *Agenda) Upcoming(ctx context.Context, now time.Time) ([]Occurrence, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	refresh := a.Refresh
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	if a.events == nil || now.Sub(a.fetched) >= refresh {
		events, err := a.load(ctx)
		switch {
		case err == nil:
			a.events, a.fetched = events, now
		case a.events == nil:
			return nil, err
		default:
			log.Warn("ics refresh failed, keeping previous events", "err", err)
		}
	}

	loc := a.Location
	if loc == nil {
		loc = time.Local
	}
	horizon := a.Horizon
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	n := now.In(loc)
	day := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return Expand(a.events, Window{Location: loc, Start: day, End: n.Add(horizon)})
}

func (a *Agenda) load(ctx context.Context) ([]Event, error) {
	results, errs := a.Fetcher.FetchAll(ctx, a.Sources)
	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	events := []Event{}
	for _, res := range results {
		evs, err := Parse(res.Source, res.Body)
		if err != nil {
			log.Error("ics parse failed", err, "id", res.Source.ID)
			continue
		}
		events = append(events, evs...)
	}
	return events, nil
}
