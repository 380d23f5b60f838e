// Package pages renders the content shown on the panel: text templates,
// images, captured web pages and a calendar agenda. A Rotator cycles through
// them and feeds the display driver.
package pages

import (
	"context"
	"fmt"
	"image"
	"time"

	"it8951e/internal/battery"
	"it8951e/internal/config"
	"it8951e/internal/ics"
)

// Data is what a page can show besides its own content. Text templates see
// it as the dot.
type Data struct {
	Now time.Time
	// Battery is nil when no gauge answered.
	Battery *battery.Status
	Name    string
	Index   int
	Count   int
}

// Page renders one screen at the given logical size.
type Page interface {
	Name() string
	Render(ctx context.Context, size image.Point, d Data) (image.Image, error)
}

// Entry is a page in the rotation with its conversion settings.
type Entry struct {
	Page
	Dither bool
}

// Upcomer lists calendar occurrences; *ics.Agenda implements it.
type Upcomer interface {
	Upcoming(ctx context.Context, now time.Time) ([]ics.Occurrence, error)
}

// FromConfig builds the rotation described by cfgs. agenda may be nil when
// no calendar page is configured.
func FromConfig(cfgs []config.PageConfig, agenda Upcomer) ([]Entry, error) {
	out := make([]Entry, 0, len(cfgs))
	for i, pc := range cfgs {
		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", pc.Kind, i)
		}
		var (
			p   Page
			err error
		)
		switch pc.Kind {
		case config.PageText:
			p, err = NewText(name, pc.Text, pc.FontSize)
		case config.PageImage:
			p = NewPicture(name, pc.Path)
		case config.PageWeb:
			p = NewWeb(name, pc.URL, pc.WaitSelector)
		case config.PageCalendar:
			if agenda == nil {
				return nil, fmt.Errorf("pages: %s: calendar page without ics sources", name)
			}
			p = NewCalendar(name, agenda, pc.FontSize)
		default:
			err = fmt.Errorf("unknown kind %q", pc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("pages: %s: %w", name, err)
		}
		out = append(out, Entry{Page: p, Dither: pc.Dither})
	}
	return out, nil
}
