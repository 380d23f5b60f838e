package pages

import (
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

const defaultFontSize = 32

var (
	fontsOnce     sync.Once
	regular, bold *truetype.Font
	fontsErr      error
)

func loadFonts() error {
	fontsOnce.Do(func() {
		if regular, fontsErr = truetype.Parse(goregular.TTF); fontsErr != nil {
			return
		}
		bold, fontsErr = truetype.Parse(gobold.TTF)
	})
	return fontsErr
}

// faces returns the regular and bold Go fonts at size points.
func faces(size float64) (font.Face, font.Face, error) {
	if err := loadFonts(); err != nil {
		return nil, nil, err
	}
	if size <= 0 {
		size = defaultFontSize
	}
	opts := &truetype.Options{Size: size, Hinting: font.HintingFull}
	return truetype.NewFace(regular, opts), truetype.NewFace(bold, opts), nil
}
