package display

import "strings"

// Alignment is the horizontal anchoring of the overlay line.
type Alignment string

const (
	AlignLeft  Alignment = "left"
	AlignRight Alignment = "right"
)

// ParseAlignment maps a config value; anything but "left" is right-aligned.
func ParseAlignment(s string) Alignment {
	if strings.EqualFold(strings.TrimSpace(s), string(AlignLeft)) {
		return AlignLeft
	}
	return AlignRight
}

// Offsets position the anchor as a fraction of the screen plus pixels.
type Offsets struct {
	XRatio float64
	XPx    float64
	YRatio float64
	YPx    float64
}

// Anchor returns the anchor point on a screen of the given size.
func Anchor(screenW, screenH float64, o Offsets) (x, y float64) {
	return o.XRatio*screenW + o.XPx, o.YRatio*screenH + o.YPx
}

// DrawX returns where text of textWidth starts. Right-aligned text ends at anchorX.
func DrawX(anchorX, textWidth float64, a Alignment) float64 {
	if a == AlignLeft {
		return anchorX
	}
	return anchorX - textWidth
}

// Measurer is implemented by the render sink; text width is a rendering concern.
type Measurer interface {
	MeasureText(s string) float64
}

// Place measures text with m and returns its draw x.
func Place(text string, m Measurer, anchorX float64, a Alignment) float64 {
	if a == AlignLeft {
		return anchorX
	}
	return DrawX(anchorX, m.MeasureText(text), a)
}
