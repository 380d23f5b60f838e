package pages

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"it8951e/internal/battery"
	"it8951e/internal/capture"
	"it8951e/internal/config"
	"it8951e/internal/ics"
	"it8951e/internal/image4bit"
)

type fakeAgenda struct {
	occ []ics.Occurrence
	err error
}

func (f *fakeAgenda) Upcoming(context.Context, time.Time) ([]ics.Occurrence, error) {
	return f.occ, f.err
}

// darkPixels counts pixels rendered darker than mid gray.
func darkPixels(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if image4bit.Luma(img.At(x, y)) < 8 {
				n++
			}
		}
	}
	return n
}

func TestTextExpand(t *testing.T) {
	p, err := NewText("clock", `{{ .Name }} {{ upper "ok" }} {{ .Now.Format "15:04" }}{{ if .Battery }} {{ .Battery.Percent }}%{{ end }}`, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := Data{Now: time.Date(2025, 1, 2, 13, 45, 0, 0, time.UTC), Name: "clock"}
	got, err := p.Expand(d)
	if err != nil {
		t.Fatal(err)
	}
	if got != "clock OK 13:45" {
		t.Errorf("Expand() = %q", got)
	}
	d.Battery = &battery.Status{Percent: 42}
	if got, _ := p.Expand(d); !strings.HasSuffix(got, " 42%") {
		t.Errorf("Expand() with battery = %q", got)
	}
}

func TestTextRender(t *testing.T) {
	p, err := NewText("hello", "Hello, panel", 24)
	if err != nil {
		t.Fatal(err)
	}
	img, err := p.Render(context.Background(), image.Pt(400, 120), Data{})
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 400, 120) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if darkPixels(img) == 0 {
		t.Error("no text drawn")
	}
	if image4bit.Luma(img.At(399, 119)) != 15 {
		t.Error("background is not white")
	}
}

func TestPictureRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	if err := imaging.Save(imaging.New(30, 20, color.Black), path); err != nil {
		t.Fatal(err)
	}
	img, err := NewPicture("pic", path).Render(context.Background(), image.Pt(100, 100), Data{})
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if _, err := NewPicture("missing", path+".nope").Render(context.Background(), image.Pt(1, 1), Data{}); err == nil {
		t.Error("missing file rendered")
	}
}

func TestWebRender(t *testing.T) {
	w := NewWeb("dash", "http://example.test/", "#ready")
	var got capture.Options
	w.shoot = func(_ context.Context, o capture.Options) (image.Image, error) {
		got = o
		return imaging.New(o.Width, o.Height, color.White), nil
	}
	if _, err := w.Render(context.Background(), image.Pt(825, 1200), Data{}); err != nil {
		t.Fatal(err)
	}
	if got.URL != "http://example.test/" || got.Width != 825 || got.Height != 1200 || got.WaitSelector != "#ready" {
		t.Errorf("capture options = %+v", got)
	}
}

func TestCalendarRender(t *testing.T) {
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	a := &fakeAgenda{occ: []ics.Occurrence{
		{Summary: "Holiday", AllDay: true, Start: day, End: day.AddDate(0, 0, 1)},
		{Summary: "A very long meeting title that will not fit in the narrow test panel at all", Start: day.Add(9 * time.Hour)},
		{Summary: "Tomorrow", Start: day.Add(33 * time.Hour)},
	}}
	c := NewCalendar("cal", a, 16)
	img, err := c.Render(context.Background(), image.Pt(320, 240), Data{Now: day.Add(8 * time.Hour), Battery: &battery.Status{Percent: 80}})
	if err != nil {
		t.Fatal(err)
	}
	if darkPixels(img) == 0 {
		t.Error("nothing drawn")
	}

	a.err = errors.New("feed down")
	if _, err := c.Render(context.Background(), image.Pt(320, 240), Data{Now: day}); err == nil {
		t.Error("agenda error not returned")
	}

	a.err, a.occ = nil, nil
	if _, err := c.Render(context.Background(), image.Pt(320, 240), Data{Now: day}); err != nil {
		t.Errorf("empty agenda: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfgs := []config.PageConfig{
		{Kind: config.PageText, Text: "hi"},
		{Kind: config.PageImage, Name: "photo", Path: "/tmp/x.png", Dither: true},
		{Kind: config.PageWeb, URL: "http://x/"},
		{Kind: config.PageCalendar},
	}
	entries, err := FromConfig(cfgs, &fakeAgenda{})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "text-0,photo,web-2,calendar-3" {
		t.Errorf("names = %v", names)
	}
	if !entries[1].Dither || entries[0].Dither {
		t.Error("dither flags not carried")
	}

	if _, err := FromConfig(cfgs[3:], nil); err == nil {
		t.Error("calendar without agenda accepted")
	}
	if _, err := FromConfig([]config.PageConfig{{Kind: config.PageText, Text: "{{ .Bad"}}, nil); err == nil {
		t.Error("broken template accepted")
	}
}
