// Package reconcile turns the server's discrete position feed into something
// a client can draw or aim at: time-based interpolation for rendering, a
// short-lived shot board, and velocity-fit prediction for automated aiming.
package reconcile

import (
	"time"

	"fax-hunt/internal/game"
)

// DefaultSmoothing is the time over which the rendered position catches up
// with a new authoritative position.
const DefaultSmoothing = 100 * time.Millisecond

// Interpolator smooths the rendered target toward the latest authoritative
// position. Not safe for concurrent use.
type Interpolator struct {
	window   time.Duration
	start    game.Vec
	rendered game.Vec
	target   game.Vec
	last     time.Time
}

// NewInterpolator starts both positions at start.
func NewInterpolator(start game.Vec, window time.Duration) *Interpolator {
	if window <= 0 {
		window = DefaultSmoothing
	}
	return &Interpolator{
		window:   window,
		start:    start,
		rendered: start,
		target:   start,
	}
}

// Observe records an authoritative position received at at.
func (i *Interpolator) Observe(pos game.Vec, at time.Time) {
	i.target = pos
	i.last = at
}

// Frame advances the rendered position for a frame drawn at now and returns
// it. The blend factor is min(elapsed/window, 1); at 1 the rendered position
// is exactly the authoritative one.
func (i *Interpolator) Frame(now time.Time) game.Vec {
	factor := 1.0
	if !i.last.IsZero() {
		factor = float64(now.Sub(i.last)) / float64(i.window)
	}

	switch {
	case factor >= 1:
		i.rendered = i.target
	case factor > 0:
		i.rendered = game.Vec{
			X: i.rendered.X + (i.target.X-i.rendered.X)*factor,
			Y: i.rendered.Y + (i.target.Y-i.rendered.Y)*factor,
		}
	}
	return i.rendered
}

// Rendered returns the position drawn by the last Frame.
func (i *Interpolator) Rendered() game.Vec {
	return i.rendered
}

// Target returns the latest authoritative position.
func (i *Interpolator) Target() game.Vec {
	return i.target
}

// Reset puts both positions back at the start point.
func (i *Interpolator) Reset() {
	i.rendered = i.start
	i.target = i.start
	i.last = time.Time{}
}
