package overlay

import (
	"fmt"
	"image/color"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"

	appLog "uqclock/internal/log"
)

// Brush names used by the renderer.
const (
	BrushFont       = "font_color"
	BrushBackground = "overlay"
)

// fallbackFace is used when no font file is configured or it cannot be loaded.
var fallbackFace font.Face = basicfont.Face7x13

// Resources holds the named brushes and the text face of one render target.
// It is rebuilt whenever the target is recreated and released on exit.
type Resources struct {
	fontName string
	fontSize int
	fontClr  color.NRGBA
	bgClr    color.NRGBA

	brushes map[string]color.Color
	face    font.Face
	ownFace bool
}

// NewResources returns an unacquired pool; call Acquire before drawing.
func NewResources(fontName string, fontSize int, fontClr, bgClr color.NRGBA) *Resources {
	return &Resources{fontName: fontName, fontSize: fontSize, fontClr: fontClr, bgClr: bgClr}
}

// Acquired reports whether the pool currently holds resources.
func (r *Resources) Acquired() bool { return r.face != nil }

// Acquire builds the brushes and the face. A font that fails to load is
// logged and replaced by the built-in bitmap face.
func (r *Resources) Acquire() {
	r.brushes = map[string]color.Color{
		BrushFont:       r.fontClr,
		BrushBackground: r.bgClr,
	}

	if r.fontName == "" {
		r.face, r.ownFace = fallbackFace, false
		return
	}
	face, err := loadFace(r.fontName, r.fontSize)
	if err != nil {
		appLog.Warn("font unavailable, using built-in face", "font_name", r.fontName, "error", err.Error())
		r.face, r.ownFace = fallbackFace, false
		return
	}
	r.face, r.ownFace = face, true
}

// Release drops everything Acquire created.
func (r *Resources) Release() {
	if r.face != nil && r.ownFace {
		if err := r.face.Close(); err != nil {
			appLog.Warn("failed to close font face", "error", err.Error())
		}
	}
	r.face, r.ownFace = nil, false
	r.brushes = nil
}

// Recreate releases and re-acquires, e.g. after the render target changed.
func (r *Resources) Recreate() {
	r.Release()
	r.Acquire()
}

// Brush returns a named color, or transparent when it is unknown.
func (r *Resources) Brush(name string) color.Color {
	if c, ok := r.brushes[name]; ok {
		return c
	}
	return color.Transparent
}

// Face returns the current text face.
func (r *Resources) Face() font.Face {
	if r.face == nil {
		return fallbackFace
	}
	return r.face
}

func loadFace(path string, size int) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("new face: %w", err)
	}
	return face, nil
}
