// Package overlay draws the queue's front event as a single line of text on
// a transparent, click-through, always-on-top window.
package overlay

import (
	"context"
	"errors"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font"

	"uqclock/internal/config"
	"uqclock/internal/display"
	appLog "uqclock/internal/log"
	"uqclock/internal/model"
)

// DefaultTPS is the render tick rate.
const DefaultTPS = 60

// padding around the text inside the background rectangle.
const padding = 4

// Ticker is the part of schedule.Queue the renderer drives.
type Ticker interface {
	AdvanceIfExpired(now time.Time) bool
	Peek() model.Event
}

// Options configures the overlay window.
type Options struct {
	Display    display.Options
	FontName   string
	FontSize   int
	FontColor  color.NRGBA
	Background color.NRGBA
	Title      string
	TPS        int
	Now        func() time.Time
}

// OptionsFromConfig maps the user config onto render options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Display:    display.OptionsFromConfig(cfg),
		FontName:   cfg.FontName,
		FontSize:   cfg.FontSize,
		FontColor:  cfg.FontColor.Color(),
		Background: cfg.BackgroundColor.Color(),
		Title:      "uqclock",
		TPS:        DefaultTPS,
	}
}

// Game implements ebiten.Game. Every tick advances the queue by at most one
// event and formats the line; Draw only paints the cached line.
type Game struct {
	ctx   context.Context
	queue Ticker
	opts  Options
	res   *Resources

	line   string
	width  int
	height int
}

// NewGame creates a Game with acquired resources.
func NewGame(ctx context.Context, queue Ticker, opts Options) *Game {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TPS <= 0 {
		opts.TPS = DefaultTPS
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res := NewResources(opts.FontName, opts.FontSize, opts.FontColor, opts.Background)
	res.Acquire()
	return &Game{ctx: ctx, queue: queue, opts: opts, res: res}
}

// Line returns the text drawn on the last frame.
func (g *Game) Line() string { return g.line }

// Update is the render tick.
func (g *Game) Update() error {
	if g.ctx.Err() != nil {
		return ebiten.Termination
	}
	now := g.opts.Now()
	g.queue.AdvanceIfExpired(now)
	g.line = display.Format(g.queue.Peek(), now, g.opts.Display)
	return nil
}

// Draw paints the background rectangle and the line at the anchor.
func (g *Game) Draw(screen *ebiten.Image) {
	screen.Clear()
	if g.line == "" {
		return
	}
	b := screen.Bounds()
	r := g.Placement(float64(b.Dx()), float64(b.Dy()), g.line)

	vector.DrawFilledRect(screen, float32(r.BgX), float32(r.BgY), float32(r.BgW), float32(r.BgH), g.res.Brush(BrushBackground), false)
	text.Draw(screen, g.line, g.res.Face(), int(r.TextX), int(r.Baseline), g.res.Brush(BrushFont))
}

// Rect is where a line lands on the screen.
type Rect struct {
	TextX, Baseline    float64
	BgX, BgY, BgW, BgH float64
}

// Placement places s on a screen of the given size. The anchor y is the top of
// the text; the background rectangle surrounds it with padding.
func (g *Game) Placement(screenW, screenH float64, s string) Rect {
	ax, ay := display.Anchor(screenW, screenH, g.opts.Display.Offsets)
	x := display.Place(s, g, ax, g.opts.Display.Alignment)
	w := g.MeasureText(s)

	m := g.res.Face().Metrics()
	ascent := float64(m.Ascent.Ceil())
	h := float64(m.Height.Ceil())

	return Rect{
		TextX:    x,
		Baseline: ay + ascent,
		BgX:      x - padding,
		BgY:      ay - padding,
		BgW:      w + 2*padding,
		BgH:      h + 2*padding,
	}
}

// MeasureText returns the advance width of s in the current face.
func (g *Game) MeasureText(s string) float64 {
	adv := font.MeasureString(g.res.Face(), s)
	return float64(adv) / 64
}

// Layout implements ebiten.Game. The render target follows the window;
// resources are recreated when its size changes.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.width || outsideHeight != g.height {
		if g.width != 0 || g.height != 0 {
			appLog.Debug("render target resized", "width", outsideWidth, "height", outsideHeight)
			g.res.Recreate()
		}
		g.width, g.height = outsideWidth, outsideHeight
	}
	return outsideWidth, outsideHeight
}

// Close releases the render resources.
func (g *Game) Close() { g.res.Release() }

var (
	_ ebiten.Game      = (*Game)(nil)
	_ display.Measurer = (*Game)(nil)
)

// Run opens the overlay window over the whole monitor and blocks until ctx is
// canceled or the window is closed.
func Run(ctx context.Context, queue Ticker, opts Options) error {
	g := NewGame(ctx, queue, opts)
	defer g.Close()

	w, h := 1920, 1080
	if m := ebiten.Monitor(); m != nil {
		if mw, mh := m.Size(); mw > 0 && mh > 0 {
			w, h = mw, mh
		}
	}

	ebiten.SetWindowTitle(g.opts.Title)
	ebiten.SetWindowDecorated(false)
	ebiten.SetWindowFloating(true)
	ebiten.SetWindowMousePassthrough(true)
	ebiten.SetWindowSize(w, h)
	ebiten.SetWindowPosition(0, 0)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetTPS(g.opts.TPS)

	appLog.Info("overlay window starting", "width", w, "height", h, "tps", g.opts.TPS)
	err := ebiten.RunGameWithOptions(g, &ebiten.RunGameOptions{
		ScreenTransparent: true,
		InitUnfocused:     true,
		SkipTaskbar:       true,
	})
	if err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	appLog.Info("overlay window closed")
	return nil
}
