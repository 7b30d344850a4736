package reconcile

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"fax-hunt/internal/game"
	"fax-hunt/internal/protocol"
)

// ShotLifetime is how long a shot stays on the board.
const ShotLifetime = time.Second

// ErrUnknownEvent is returned by View.Apply for events it cannot interpret.
var ErrUnknownEvent = errors.New("unknown event")

type boardEntry struct {
	shot protocol.NewShot
	at   time.Time
}

// ShotBoard holds recent shots until they expire. Safe for concurrent use.
type ShotBoard struct {
	mu       sync.Mutex
	lifetime time.Duration
	entries  []boardEntry
}

// NewShotBoard creates a board; lifetime <= 0 means ShotLifetime.
func NewShotBoard(lifetime time.Duration) *ShotBoard {
	if lifetime <= 0 {
		lifetime = ShotLifetime
	}
	return &ShotBoard{lifetime: lifetime}
}

// Add places shot on the board, received at at.
func (b *ShotBoard) Add(shot protocol.NewShot, at time.Time) {
	b.mu.Lock()
	b.entries = append(b.entries, boardEntry{shot: shot, at: at})
	b.mu.Unlock()
}

// Active drops expired shots and returns the rest, oldest first.
func (b *ShotBoard) Active(now time.Time) []protocol.NewShot {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.entries[:0]
	for _, e := range b.entries {
		if now.Sub(e.at) < b.lifetime {
			live = append(live, e)
		}
	}
	b.entries = live

	out := make([]protocol.NewShot, len(live))
	for i, e := range live {
		out[i] = e.shot
	}
	return out
}

// Clear empties the board.
func (b *ShotBoard) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

// View is a viewer's picture of the game, rebuilt from the realtime feed.
type View struct {
	Target *Interpolator
	Shots  *ShotBoard
	Active bool
	Winner string
	Roster protocol.UserList
}

// NewView creates a view of a fresh, active game.
func NewView(start game.Vec, smoothing time.Duration) *View {
	return &View{
		Target: NewInterpolator(start, smoothing),
		Shots:  NewShotBoard(ShotLifetime),
		Active: true,
	}
}

// Apply folds one event received at at into the view.
func (v *View) Apply(ev protocol.Event, at time.Time) error {
	switch e := ev.(type) {
	case protocol.ObjectPosition:
		v.Target.Observe(game.Vec{X: e.X, Y: e.Y}, at)
	case protocol.NewShot:
		v.Shots.Add(e, at)
	case protocol.GameOver:
		v.Active = false
		v.Winner = e.Winner
	case protocol.GameReset:
		v.Active = true
		v.Winner = ""
		v.Shots.Clear()
		v.Target.Reset()
	case protocol.UserList:
		v.Roster = append(v.Roster[:0], e...)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return nil
}
