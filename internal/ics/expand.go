package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"it8951e/internal/log"
)

const defaultMaxPerEvent = 5000

// Occurrence is one concrete instance of an event in the display zone.
type Occurrence struct {
	SourceID string `json:"source_id"`
	UID      string `json:"uid"`
	// InstanceKey identifies one instance of a recurring event.
	InstanceKey string `json:"instance_key"`

	Summary  string `json:"summary"`
	Location string `json:"location,omitempty"`
	AllDay   bool   `json:"all_day"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window bounds an expansion.
type Window struct {
	// Location is the display zone; nil means time.Local.
	Location *time.Location
	Start    time.Time
	End      time.Time
	// MaxPerEvent caps the instances of one recurring event.
	MaxPerEvent int
}

// Expand turns events into the occurrences intersecting w, sorted by start
// then summary. It applies RRULE, EXDATE and RECURRENCE-ID overrides.
func Expand(events []Event, w Window) ([]Occurrence, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("expand: window ends before it starts")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxPerEvent
	}

	bases := map[string][]Event{}
	overrides := map[string][]Event{}
	var uids []string
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, ok := bases[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	var out []Occurrence
	for _, uid := range uids {
		for _, ev := range bases[uid] {
			out = append(out, expandEvent(ev, overrides[uid], w)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Summary < out[j].Summary
	})
	return out, nil
}

func expandEvent(ev Event, overrides []Event, w Window) []Occurrence {
	if ev.RRule == "" {
		if !overlaps(ev.Start, ev.End, w.Start, w.End) {
			return nil
		}
		return []Occurrence{instance(ev, overrides, ev.Start, ev.End, w.Location)}
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		log.Warn("ics rrule skipped", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return nil
	}
	r.DTStart(ev.Start)
	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Start the search one duration early so instances already running at
	// the window start are kept.
	starts := set.Between(w.Start.Add(-dur).In(ev.Start.Location()), w.End.In(ev.Start.Location()), true)
	if len(starts) > w.MaxPerEvent {
		log.Warn("ics occurrences truncated", "uid", ev.UID, "cap", w.MaxPerEvent)
		starts = starts[:w.MaxPerEvent]
	}
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		e := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, 1)
		}
		if !overlaps(s, e, w.Start, w.End) {
			continue
		}
		out = append(out, instance(ev, overrides, s, e, w.Location))
	}
	return out
}

// instance builds the occurrence starting at start, replaced by the override
// whose RECURRENCE-ID matches it.
func instance(ev Event, overrides []Event, start, end time.Time, loc *time.Location) Occurrence {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			ev, start, end = o, o.Start, o.End
			break
		}
	}
	s, e := start.In(loc), end.In(loc)
	if ev.AllDay {
		// Dates float: keep the calendar day in the display zone.
		days := int((end.Sub(start) + 12*time.Hour) / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		s = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		e = s.AddDate(0, 0, days)
	}
	return Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: s.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       s,
		End:         e,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
