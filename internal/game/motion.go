package game

import (
	"math"

	"golang.org/x/exp/rand"
)

// MotionConfig tunes the target's movement.
type MotionConfig struct {
	Bounds       Bounds  // target is clamped into this rectangle
	Start        Vec     // position after every reset
	MinSpeed     float64 // lower bound on |v| per axis, pixels per tick
	MaxSpeed     float64 // upper bound on |v| per axis, pixels per tick
	ChangeChance float64 // probability per tick of drawing a new velocity
	Seed         uint64
}

// Target is the single moving object players shoot at.
type Target struct {
	Pos Vec
	Vel Vec
}

// Simulator advances the target on every tick. Not safe for concurrent use:
// the session loop owns it.
type Simulator struct {
	cfg    MotionConfig
	target Target
	rng    *rand.Rand
}

// NewSimulator creates a simulator whose trajectory is fully determined by
// cfg.Seed.
func NewSimulator(cfg MotionConfig) *Simulator {
	cfg.MinSpeed = math.Max(1, cfg.MinSpeed)
	cfg.MaxSpeed = math.Max(cfg.MinSpeed, cfg.MaxSpeed)

	s := &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	s.Reset()
	return s
}

// Reset puts the target back at the start point with a fresh velocity.
func (s *Simulator) Reset() {
	s.target = Target{
		Pos: s.cfg.Start,
		Vel: Vec{X: s.randomVelocity(), Y: s.randomVelocity()},
	}
}

// Target returns the current target state.
func (s *Simulator) Target() Target {
	return s.target
}

// Position returns the current target position.
func (s *Simulator) Position() Vec {
	return s.target.Pos
}

// MaxSpeed returns the configured speed cap.
func (s *Simulator) MaxSpeed() float64 {
	return s.cfg.MaxSpeed
}

// SetMaxSpeed changes the speed cap. Values below the minimum speed are
// raised to it. The current velocity is clamped on the next tick.
func (s *Simulator) SetMaxSpeed(speed float64) float64 {
	s.cfg.MaxSpeed = math.Max(s.cfg.MinSpeed, speed)
	return s.cfg.MaxSpeed
}

// Tick advances the target by one step and returns the new position.
//
// The velocity is occasionally re-drawn so the motion looks irregular, then
// clamped to the speed cap. After moving, the position is clamped into the
// bounds and an axis reflects only when its coordinate sits exactly on an
// edge.
func (s *Simulator) Tick() Vec {
	if s.rng.Float64() < s.cfg.ChangeChance {
		s.target.Vel = Vec{X: s.randomVelocity(), Y: s.randomVelocity()}
	}

	s.target.Vel.X = clampAbs(s.target.Vel.X, s.cfg.MaxSpeed)
	s.target.Vel.Y = clampAbs(s.target.Vel.Y, s.cfg.MaxSpeed)

	b := s.cfg.Bounds
	pos := b.Clamp(s.target.Pos.Add(s.target.Vel))

	if pos.X == b.MinX || pos.X == b.MaxX {
		s.target.Vel.X = -s.target.Vel.X
	}
	if pos.Y == b.MinY || pos.Y == b.MaxY {
		s.target.Vel.Y = -s.target.Vel.Y
	}

	s.target.Pos = pos
	return pos
}

// randomVelocity draws a whole number in (-MaxSpeed, MaxSpeed), never zero,
// with magnitude at least MinSpeed.
func (s *Simulator) randomVelocity() float64 {
	for {
		v := math.Floor((s.rng.Float64() - 0.5) * 2 * s.cfg.MaxSpeed)
		if v == 0 {
			continue
		}
		if math.Abs(v) < s.cfg.MinSpeed {
			v = math.Copysign(s.cfg.MinSpeed, v)
		}
		return v
	}
}

func clampAbs(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
