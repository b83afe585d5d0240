package imaging

import (
	"fmt"
	"image/color"
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// goldenAngle spreads successive hues as far apart as possible.
const goldenAngle = 137.50776

// Palette assigns a stable colour to each model name.
//
// Models listed at construction get indexes in that order; unknown models are
// appended the first time they are seen.
type Palette struct {
	mu    sync.Mutex
	base  colorful.Color
	index map[string]int
}

// NewPalette parses a "#RRGGBB" base colour.
func NewPalette(baseHex string, models ...string) (*Palette, error) {
	base, err := colorful.Hex(baseHex)
	if err != nil {
		return nil, fmt.Errorf("invalid box colour %q: %w", baseHex, err)
	}
	p := &Palette{base: base, index: make(map[string]int, len(models))}
	for _, m := range models {
		p.indexOf(m)
	}
	return p, nil
}

// Color returns the colour for a model.
func (p *Palette) Color(model string) color.RGBA {
	p.mu.Lock()
	i := p.indexOf(model)
	p.mu.Unlock()

	if i == 0 {
		return toRGBA(p.base)
	}

	h, s, v := p.base.Hsv()
	// A grey base has no hue to rotate; give it enough saturation to tell models apart.
	if s < 0.2 {
		s = 0.8
		if v < 0.4 {
			v = 0.9
		}
	}
	h = math.Mod(h+float64(i)*goldenAngle, 360)
	return toRGBA(colorful.Hsv(h, s, v).Clamped())
}

// indexOf must be called with mu held, except during construction.
func (p *Palette) indexOf(model string) int {
	if i, ok := p.index[model]; ok {
		return i
	}
	i := len(p.index)
	p.index[model] = i
	return i
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
