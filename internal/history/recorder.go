package history

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"fax-hunt/internal/protocol"
)

const (
	flushInterval = 500 * time.Millisecond
	flushSize     = 50
	queueSize     = 1024
)

type roundStore interface {
	StartRound(ctx context.Context, id string, at time.Time) error
	FinishRound(ctx context.Context, id, winner string, at time.Time) error
	BatchRecordShots(ctx context.Context, shots []ShotRecord) error
}

// Recorder listens to session events and writes rounds and shots in batches.
// Publish never blocks the game loop; events are dropped when the queue is
// full.
type Recorder struct {
	store  roundStore
	events chan protocol.Event
	now    func() time.Time
	newID  func() string
}

func NewRecorder(store roundStore) *Recorder {
	return &Recorder{
		store:  store,
		events: make(chan protocol.Event, queueSize),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Publish implements game.Publisher.
func (r *Recorder) Publish(ev protocol.Event) {
	switch ev.(type) {
	case protocol.NewShot, protocol.GameOver, protocol.GameReset:
	default:
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

// Run opens a round and records until ctx is cancelled. Pending shots are
// flushed on the way out.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	round := r.startRound(ctx)
	finished := false
	batch := make([]ShotRecord, 0, flushSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.store.BatchRecordShots(ctx, batch); err != nil {
			log.Printf("🗄️ BatchRecordShots error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			flush(final)
			cancel()
			return

		case ev := <-r.events:
			switch e := ev.(type) {
			case protocol.NewShot:
				batch = append(batch, ShotRecord{
					RoundID:  round,
					Username: e.Username,
					Color:    e.Color,
					X:        e.X,
					Y:        e.Y,
					FiredAt:  time.UnixMilli(e.Timestamp),
				})
				if len(batch) >= flushSize {
					flush(ctx)
				}
			case protocol.GameOver:
				flush(ctx)
				if err := r.store.FinishRound(ctx, round, e.Winner, r.now()); err != nil {
					log.Printf("🗄️ FinishRound error: %v", err)
				}
				finished = true
			case protocol.GameReset:
				flush(ctx)
				if !finished {
					if err := r.store.FinishRound(ctx, round, "", r.now()); err != nil {
						log.Printf("🗄️ FinishRound error: %v", err)
					}
				}
				round = r.startRound(ctx)
				finished = false
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (r *Recorder) startRound(ctx context.Context) string {
	id := r.newID()
	if err := r.store.StartRound(ctx, id, r.now()); err != nil {
		log.Printf("🗄️ StartRound error: %v", err)
	}
	return id
}
