package reconcile

import (
	"errors"
	"math"
	"time"

	"golang.org/x/exp/rand"

	"fax-hunt/internal/game"
)

// Prediction defaults.
const (
	DefaultSamples = 5
	MinSamples     = 3
	DefaultLead    = 400 * time.Millisecond
	DefaultShots   = 5
	DefaultSpread  = 30.0
)

var (
	// ErrInsufficientSamples means fewer than MinSamples positions are known.
	ErrInsufficientSamples = errors.New("not enough samples to predict")
	// ErrNoVelocity means every sample pair had a non-positive time step.
	ErrNoVelocity = errors.New("no usable velocity samples")
)

// Sample is a noisy position observed at a point in time.
type Sample struct {
	Pos game.Vec
	At  time.Time
}

// Predictor fits an average velocity over the last few samples and
// extrapolates where the target will be. Not safe for concurrent use.
type Predictor struct {
	capacity int
	field    game.Bounds
	samples  []Sample
}

// NewPredictor keeps the last capacity samples and clamps predictions to
// field.
func NewPredictor(capacity int, field game.Bounds) *Predictor {
	if capacity < MinSamples {
		capacity = MinSamples
	}
	return &Predictor{capacity: capacity, field: field}
}

// Observe appends a sample, dropping the oldest beyond capacity.
func (p *Predictor) Observe(pos game.Vec, at time.Time) {
	p.samples = append(p.samples, Sample{Pos: pos, At: at})
	if len(p.samples) > p.capacity {
		p.samples = p.samples[len(p.samples)-p.capacity:]
	}
}

// Len returns the number of retained samples.
func (p *Predictor) Len() int {
	return len(p.samples)
}

// Reset forgets every sample.
func (p *Predictor) Reset() {
	p.samples = nil
}

// Velocity averages the per-pair velocities in pixels per second, skipping
// pairs whose time step is not positive.
func (p *Predictor) Velocity() (game.Vec, error) {
	if len(p.samples) < MinSamples {
		return game.Vec{}, ErrInsufficientSamples
	}

	var sum game.Vec
	valid := 0
	for i := 1; i < len(p.samples); i++ {
		dt := p.samples[i].At.Sub(p.samples[i-1].At).Seconds()
		if dt <= 0 {
			continue
		}
		sum.X += (p.samples[i].Pos.X - p.samples[i-1].Pos.X) / dt
		sum.Y += (p.samples[i].Pos.Y - p.samples[i-1].Pos.Y) / dt
		valid++
	}
	if valid == 0 {
		return game.Vec{}, ErrNoVelocity
	}
	return game.Vec{X: sum.X / float64(valid), Y: sum.Y / float64(valid)}, nil
}

// Predict extrapolates the last sample by lead at the average velocity,
// rounded to whole pixels and clamped to the field.
func (p *Predictor) Predict(lead time.Duration) (game.Vec, error) {
	v, err := p.Velocity()
	if err != nil {
		return game.Vec{}, err
	}

	last := p.samples[len(p.samples)-1].Pos
	predicted := game.Vec{
		X: math.Round(last.X + v.X*lead.Seconds()),
		Y: math.Round(last.Y + v.Y*lead.Seconds()),
	}
	return p.field.Clamp(predicted), nil
}

// Spread scatters n shots around center, uniform in angle and in distance up
// to radius, each rounded and clamped to field.
func Spread(center game.Vec, n int, radius float64, field game.Bounds, rng *rand.Rand) []game.Vec {
	shots := make([]game.Vec, 0, n)
	for i := 0; i < n; i++ {
		angle := rng.Float64() * 2 * math.Pi
		dist := rng.Float64() * radius
		shot := game.Vec{
			X: math.Round(center.X + dist*math.Cos(angle)),
			Y: math.Round(center.Y + dist*math.Sin(angle)),
		}
		shots = append(shots, field.Clamp(shot))
	}
	return shots
}
