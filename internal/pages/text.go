package pages

import (
	"context"
	"image"
	"strings"
	"text/template"

	"github.com/fogleman/gg"
)

// Text renders a text/template, word wrapped, in black on white.
type Text struct {
	name string
	tmpl *template.Template
	size float64
}

var textFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// NewText parses text as a template over Data.
func NewText(name, text string, size float64) (*Text, error) {
	t, err := template.New(name).Funcs(textFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = defaultFontSize
	}
	return &Text{name: name, tmpl: t, size: size}, nil
}

func (t *Text) Name() string { return t.name }

// Expand executes the template against d.
func (t *Text) Expand(d Data) (string, error) {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, d); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (t *Text) Render(_ context.Context, size image.Point, d Data) (image.Image, error) {
	s, err := t.Expand(d)
	if err != nil {
		return nil, err
	}
	face, _, err := faces(t.size)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContext(size.X, size.Y)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)
	dc.SetFontFace(face)
	margin := t.size
	dc.DrawStringWrapped(s, margin, margin, 0, 0, float64(size.X)-2*margin, 1.4, gg.AlignLeft)
	return dc.Image(), nil
}
