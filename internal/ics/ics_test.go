package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250106T090000Z\r\n" +
	"DTEND:20250106T091500Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20250108T090000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"RECURRENCE-ID:20250109T090000Z\r\n" +
	"DTSTART:20250109T100000Z\r\n" +
	"DTEND:20250109T101500Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250107\r\n" +
	"SUMMARY:Holiday\r\n" +
	"LOCATION:Home\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250107T120000Z\r\n" +
	"SUMMARY:No UID\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParse(t *testing.T) {
	events, err := Parse(Source{ID: "work"}, []byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (the UID-less one skipped)", len(events))
	}
	ev := events[0]
	if ev.UID != "standup@test" || ev.RRule != "FREQ=DAILY;COUNT=5" || len(ev.ExDates) != 1 {
		t.Errorf("recurring event = %+v", ev)
	}
	if events[1].RecurrenceID == nil {
		t.Error("override has no RECURRENCE-ID")
	}
	h := events[2]
	if !h.AllDay || h.End.Sub(h.Start) != 24*time.Hour || h.Location != "Home" {
		t.Errorf("all-day event = %+v", h)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(Source{}, nil); err == nil {
		t.Fatal("empty body accepted")
	}
}

func TestExpand(t *testing.T) {
	events, err := Parse(Source{ID: "work"}, []byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	w := Window{
		Location: time.UTC,
		Start:    time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	occ, err := Expand(events, w)
	if err != nil {
		t.Fatal(err)
	}
	type row struct {
		Summary string
		Start   string
	}
	var got []row
	for _, o := range occ {
		got = append(got, row{o.Summary, o.Start.Format("01-02 15:04")})
	}
	want := []row{
		{"Standup", "01-06 09:00"},
		{"Holiday", "01-07 00:00"},
		{"Standup", "01-07 09:00"},
		{"Standup (moved)", "01-09 10:00"},
		{"Standup", "01-10 09:00"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("occurrences mismatch (-want +got):\n%s", diff)
	}
	for _, o := range occ {
		if o.SourceID != "work" {
			t.Errorf("SourceID = %q", o.SourceID)
		}
	}
}

func TestExpandBadWindow(t *testing.T) {
	now := time.Now()
	if _, err := Expand(nil, Window{Start: now, End: now.Add(-time.Hour)}); err == nil {
		t.Fatal("inverted window accepted")
	}
}

func TestFetchRevalidates(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "a", URL: srv.URL + "/cal.ics?token=secret"}
	first, err := f.FetchOne(context.Background(), src)
	if err != nil || first.FromCache {
		t.Fatalf("first fetch = %v, %v", first.FromCache, err)
	}
	second, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || string(second.Body) != sample {
		t.Errorf("second fetch did not reuse the cache")
	}
	if notModified.Load() != 1 || hits.Load() != 2 {
		t.Errorf("hits=%d notModified=%d", hits.Load(), notModified.Load())
	}
}

func TestFetchFallsBackToCache(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "a", URL: srv.URL}
	if _, err := f.FetchOne(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	if err != nil || !res.FromCache {
		t.Fatalf("fallback = %v, %v", res.FromCache, err)
	}

	results, errs := f.FetchAll(context.Background(), []Source{src, {ID: "b", URL: srv.URL + "/other"}})
	if len(results) != 1 || len(errs) != 1 {
		t.Errorf("FetchAll = %d results, %d errors", len(results), len(errs))
	}
}

func TestAgendaCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	a := &Agenda{
		Fetcher:  NewFetcher(t.TempDir(), srv.Client()),
		Sources:  []Source{{ID: "work", URL: srv.URL}},
		Location: time.UTC,
		Horizon:  48 * time.Hour,
		Refresh:  time.Hour,
	}
	now := time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)
	occ, err := a.Upcoming(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	// Standup on the 6th ended before today started; the 8th is excluded.
	if len(occ) != 2 || occ[0].Summary != "Holiday" {
		t.Errorf("Upcoming = %+v", occ)
	}
	if _, err := a.Upcoming(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("feed fetched %d times, want 1", hits.Load())
	}
}

func TestAgendaErrorWithoutData(t *testing.T) {
	a := &Agenda{Fetcher: NewFetcher(t.TempDir(), nil), Sources: []Source{{ID: "x"}}}
	_, err := a.Upcoming(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "URL is empty") {
		t.Fatalf("Upcoming() = %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/private/abc.ics?token=x"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}
