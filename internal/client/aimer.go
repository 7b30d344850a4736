package client

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/time/rate"

	"fax-hunt/internal/game"
	"fax-hunt/internal/reconcile"
)

// AimerConfig tunes the aiming loop.
type AimerConfig struct {
	Samples      int
	Lead         time.Duration
	Shots        int
	Spread       float64
	ShotInterval time.Duration
	RoundPause   time.Duration
	Field        game.Bounds

	// Zero means unlimited.
	MaxRounds              int
	MaxConsecutiveFailures int

	Seed uint64
}

func DefaultAimerConfig() AimerConfig {
	return AimerConfig{
		Samples:                reconcile.DefaultSamples,
		Lead:                   reconcile.DefaultLead,
		Shots:                  reconcile.DefaultShots,
		Spread:                 reconcile.DefaultSpread,
		ShotInterval:           100 * time.Millisecond,
		RoundPause:             2 * time.Second,
		Field:                  game.Bounds{MinX: 0, MinY: 0, MaxX: 1024, MaxY: 600},
		MaxConsecutiveFailures: 10,
		Seed:                   uint64(time.Now().UnixNano()),
	}
}

// Outcome says why an aiming run stopped.
type Outcome string

const (
	OutcomeHit       Outcome = "hit"
	OutcomeGameOver  Outcome = "game over"
	OutcomeMaxRounds Outcome = "max rounds"
	OutcomeFailures  Outcome = "too many failures"
)

// Result summarises a run.
type Result struct {
	Outcome Outcome
	Rounds  int
	Shots   int
}

// Aimer predicts where the target is heading and fires a spread of shots
// around it, one round at a time.
type Aimer struct {
	client    *Client
	cfg       AimerConfig
	predictor *reconcile.Predictor
	rng       *rand.Rand
	pace      *rate.Limiter
	now       func() time.Time
}

func NewAimer(c *Client, cfg AimerConfig) *Aimer {
	def := DefaultAimerConfig()
	if cfg.Shots <= 0 {
		cfg.Shots = def.Shots
	}
	if cfg.Lead <= 0 {
		cfg.Lead = def.Lead
	}
	if cfg.ShotInterval <= 0 {
		cfg.ShotInterval = def.ShotInterval
	}
	if cfg.Field == (game.Bounds{}) {
		cfg.Field = def.Field
	}
	return &Aimer{
		client:    c,
		cfg:       cfg,
		predictor: reconcile.NewPredictor(cfg.Samples, cfg.Field),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		pace:      rate.NewLimiter(rate.Every(cfg.ShotInterval), 1),
		now:       time.Now,
	}
}

// Run aims until the player hits, the game ends, a round or failure limit
// is reached, or ctx is cancelled. The client must already have joined.
func (a *Aimer) Run(ctx context.Context) (Result, error) {
	var res Result
	failures := 0

	for {
		if a.cfg.MaxRounds > 0 && res.Rounds >= a.cfg.MaxRounds {
			res.Outcome = OutcomeMaxRounds
			return res, nil
		}
		res.Rounds++

		pos, err := a.client.PollTarget(ctx)
		switch {
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(err, ErrNoToken):
			return res, err
		case err != nil:
			failures++
			log.Printf("🎯 round %d: no position: %v", res.Rounds, err)
			if a.cfg.MaxConsecutiveFailures > 0 && failures >= a.cfg.MaxConsecutiveFailures {
				res.Outcome = OutcomeFailures
				return res, nil
			}
		default:
			failures = 0
			a.predictor.Observe(pos, a.now())

			outcome, fired, err := a.fireRound(ctx)
			res.Shots += fired
			if err != nil {
				return res, err
			}
			if outcome != "" {
				res.Outcome = outcome
				return res, nil
			}
		}

		if err := a.client.sleep(ctx, a.cfg.RoundPause); err != nil {
			return res, err
		}
	}
}

// fireRound shoots one spread if a prediction is available. A non-empty
// outcome ends the run.
func (a *Aimer) fireRound(ctx context.Context) (Outcome, int, error) {
	center, err := a.predictor.Predict(a.cfg.Lead)
	if err != nil {
		log.Printf("🎯 waiting for more samples (%d): %v", a.predictor.Len(), err)
		return "", 0, nil
	}

	fired := 0
	for _, shot := range reconcile.Spread(center, a.cfg.Shots, a.cfg.Spread, a.cfg.Field, a.rng) {
		if err := a.pace.Wait(ctx); err != nil {
			return "", fired, err
		}

		res, err := a.client.Fire(ctx, shot)
		var rl *RateLimitError
		switch {
		case errors.As(err, &rl):
			log.Printf("⏳ fire rate limited, waiting %s", rl.RetryAfter)
			return "", fired, a.client.sleep(ctx, rl.RetryAfter)
		case ctx.Err() != nil:
			return "", fired, ctx.Err()
		case err != nil:
			log.Printf("❌ fire at (%.0f, %.0f): %v", shot.X, shot.Y, err)
			continue
		}

		fired++
		log.Printf("🔫 fire at (%.0f, %.0f): %s", shot.X, shot.Y, res.Message)
		if res.Hit {
			return OutcomeHit, fired, nil
		}
		if !res.Success {
			return OutcomeGameOver, fired, nil
		}
	}
	return "", fired, nil
}
