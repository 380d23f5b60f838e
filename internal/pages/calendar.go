package pages

import (
	"context"
	"fmt"
	"image"

	"github.com/fogleman/gg"

	"it8951e/internal/ics"
)

// Calendar lists upcoming events grouped by day.
type Calendar struct {
	name   string
	agenda Upcomer
	size   float64
}

func NewCalendar(name string, agenda Upcomer, size float64) *Calendar {
	if size <= 0 {
		size = defaultFontSize
	}
	return &Calendar{name: name, agenda: agenda, size: size}
}

func (c *Calendar) Name() string { return c.name }

func (c *Calendar) Render(ctx context.Context, size image.Point, d Data) (image.Image, error) {
	occ, err := c.agenda.Upcoming(ctx, d.Now)
	if err != nil {
		return nil, err
	}
	face, boldFace, err := faces(c.size)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContext(size.X, size.Y)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	margin := c.size
	line := c.size * 1.5
	w, h := float64(size.X), float64(size.Y)

	dc.SetFontFace(boldFace)
	y := margin + c.size
	dc.DrawString(d.Now.Format("Monday, January 2"), margin, y)
	if d.Battery != nil {
		dc.DrawStringAnchored(fmt.Sprintf("%d%%", d.Battery.Percent), w-margin, y, 1, 0)
	}
	y += line / 2
	dc.SetLineWidth(2)
	dc.DrawLine(margin, y, w-margin, y)
	dc.Stroke()
	y += line

	if len(occ) == 0 {
		dc.SetFontFace(face)
		dc.DrawString("No upcoming events", margin, y)
		return dc.Image(), nil
	}

	day := ""
	for _, o := range occ {
		if y > h-margin {
			break
		}
		if k := o.Start.Format("2006-01-02"); k != day {
			day = k
			dc.SetFontFace(boldFace)
			dc.DrawString(o.Start.Format("Mon Jan 2"), margin, y)
			y += line
			if y > h-margin {
				break
			}
		}
		dc.SetFontFace(face)
		dc.DrawString(when(o), margin*2, y)
		dc.DrawString(truncate(dc, o.Summary, w-margin*8), margin*7, y)
		y += line
	}
	return dc.Image(), nil
}

func when(o ics.Occurrence) string {
	if o.AllDay {
		return "all day"
	}
	return o.Start.Format("15:04")
}

// truncate shortens s with an ellipsis until it fits in width.
func truncate(dc *gg.Context, s string, width float64) string {
	if w, _ := dc.MeasureString(s); w <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		t := string(r) + "…"
		if w, _ := dc.MeasureString(t); w <= width {
			return t
		}
	}
	return ""
}
