// Package render draws the playfield into PNG frames for dashboards and
// stream overlays.
package render

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fogleman/gg"

	"fax-hunt/internal/game"
	"fax-hunt/internal/protocol"
	"fax-hunt/internal/reconcile"
)

// SnapshotSource supplies the state to draw.
type SnapshotSource interface {
	Snapshot() *game.Snapshot
}

// Config sizes the frame.
type Config struct {
	Width    int
	Height   int
	FontPath string // optional; labels are skipped when no font loads
}

// DefaultConfig matches the default playfield.
func DefaultConfig() Config {
	return Config{Width: 1024, Height: 600}
}

// Renderer keeps the recent shots it sees as a session publisher and draws
// them over the current snapshot.
type Renderer struct {
	cfg    Config
	source SnapshotSource
	shots  *reconcile.ShotBoard
	now    func() time.Time

	fontOnce sync.Once
	fontPath string
}

// NewRenderer creates a renderer reading state from source.
func NewRenderer(cfg Config, source SnapshotSource) *Renderer {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = DefaultConfig().Width, DefaultConfig().Height
	}
	return &Renderer{
		cfg:    cfg,
		source: source,
		shots:  reconcile.NewShotBoard(reconcile.ShotLifetime),
		now:    time.Now,
	}
}

// Publish implements game.Publisher.
func (r *Renderer) Publish(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.NewShot:
		r.shots.Add(e, r.now())
	case protocol.GameReset:
		r.shots.Clear()
	}
}

// RenderPNG draws the current frame and encodes it to w.
func (r *Renderer) RenderPNG(w io.Writer) error {
	dc := r.Draw()
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

// Draw renders the current frame into a new context.
func (r *Renderer) Draw() *gg.Context {
	snap := r.source.Snapshot()
	dc := gg.NewContext(r.cfg.Width, r.cfg.Height)

	r.drawBackground(dc)
	labels := r.loadFont(dc)

	if snap.State == game.StateActive {
		r.drawTarget(dc, snap)
	}
	for _, shot := range r.shots.Active(r.now()) {
		dc.SetColor(parseHexColor(shot.Color))
		dc.DrawCircle(shot.X, shot.Y, 5)
		dc.Fill()
		if labels {
			dc.SetColor(color.Black)
			dc.DrawString(shot.Username, shot.X+8, shot.Y-8)
		}
	}
	if snap.State == game.StateEnded && labels {
		r.drawWinner(dc, snap.Winner)
	}
	return dc
}

func (r *Renderer) drawBackground(dc *gg.Context) {
	dc.SetColor(color.RGBA{250, 250, 255, 255})
	dc.DrawRectangle(0, 0, float64(r.cfg.Width), float64(r.cfg.Height))
	dc.Fill()

	dc.SetColor(color.RGBA{220, 220, 235, 255})
	dc.SetLineWidth(1)
	for x := 0; x <= r.cfg.Width; x += 64 {
		dc.DrawLine(float64(x), 0, float64(x), float64(r.cfg.Height))
		dc.Stroke()
	}
	for y := 0; y <= r.cfg.Height; y += 64 {
		dc.DrawLine(0, float64(y), float64(r.cfg.Width), float64(y))
		dc.Stroke()
	}
}

func (r *Renderer) drawTarget(dc *gg.Context, snap *game.Snapshot) {
	// Hit area
	dc.SetColor(color.RGBA{255, 80, 80, 60})
	dc.DrawCircle(snap.Target.X, snap.Target.Y, snap.HitRadius)
	dc.Fill()

	dc.SetColor(color.RGBA{200, 30, 30, 255})
	dc.SetLineWidth(2)
	dc.DrawCircle(snap.Target.X, snap.Target.Y, snap.HitRadius)
	dc.Stroke()

	dc.DrawCircle(snap.Target.X, snap.Target.Y, 3)
	dc.Fill()
}

func (r *Renderer) drawWinner(dc *gg.Context, winner string) {
	dc.SetColor(color.RGBA{0, 0, 0, 160})
	dc.DrawRectangle(0, float64(r.cfg.Height)/2-30, float64(r.cfg.Width), 60)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(fmt.Sprintf("%s won!", winner), float64(r.cfg.Width)/2, float64(r.cfg.Height)/2, 0.5, 0.5)
}

// loadFont sets a 14pt face and reports whether labels can be drawn.
func (r *Renderer) loadFont(dc *gg.Context) bool {
	r.fontOnce.Do(func() {
		r.fontPath = findFont(r.cfg.FontPath)
	})
	if r.fontPath == "" {
		return false
	}
	return dc.LoadFontFace(r.fontPath, 14) == nil
}

func findFont(preferred string) string {
	paths := []string{
		preferred,
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
		"/System/Library/Fonts/Supplemental/Arial.ttf",
		"C:\\Windows\\Fonts\\arial.ttf",
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func parseHexColor(hex string) color.RGBA {
	if len(hex) != 7 || hex[0] != '#' {
		return color.RGBA{40, 40, 40, 255}
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{40, 40, 40, 255}
	}
	return color.RGBA{r, g, b, 255}
}
