package game

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"fax-hunt/internal/protocol"
)

const (
	EventBufferSize    = 1024                   // Circular buffer size
	MaxEventsPerSec    = 1000                   // Global rate limit
	MaxShotsPerPlayer  = 20                     // Per-player shot events per second
	BatchFlushSize     = 64                     // Events per batch write
	BatchFlushInterval = 100 * time.Millisecond // How often to flush
	PlayerLimiterTTL   = 5 * time.Minute        // Idle player limiters are dropped after this
)

// LoggedEvent is one line of the journal.
type LoggedEvent struct {
	Sequence uint64             `json:"seq"`
	At       time.Time          `json:"at"`
	Type     protocol.EventKind `json:"type"`
	Data     protocol.Event     `json:"data"`
}

// EventLog journals session events to a newline-delimited JSON file. It is
// a Publisher: Publish is called from the session loop only, so the buffer
// has a single producer and a single consumer (the writer loop).
// Target positions are not journaled.
type EventLog struct {
	buffer    [EventBufferSize]LoggedEvent
	writeHead atomic.Uint64
	readHead  atomic.Uint64

	globalLimiter  *rate.Limiter
	playerLimiters map[string]*playerLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file   *os.File
	fileMu sync.Mutex
	now    func() time.Time

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

type playerLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func NewEventLog() *EventLog {
	return &EventLog{
		globalLimiter:  rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		playerLimiters: make(map[string]*playerLimiterEntry),
		stopChan:       make(chan struct{}),
		now:            time.Now,
	}
}

// Start opens filePath for append and begins the async writer.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	el.file = file

	el.running.Store(true)
	el.writerWg.Add(1)
	go el.writerLoop()
	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.file != nil {
			el.file.Close()
		}
		el.fileMu.Unlock()
	})
}

// Publish implements Publisher.
func (el *EventLog) Publish(ev protocol.Event) {
	if _, ok := ev.(protocol.ObjectPosition); ok {
		return
	}
	el.Emit(ev)
}

// Emit queues ev. Returns false when rate limited or when the buffer is full.
func (el *EventLog) Emit(ev protocol.Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	// One spamming player cannot crowd out the rest of the journal.
	if shot, ok := ev.(protocol.NewShot); ok {
		if !el.playerLimiter(shot.Username).Allow() {
			el.droppedCount.Add(1)
			return false
		}
	}

	head := el.writeHead.Load()
	if head-el.readHead.Load() >= EventBufferSize {
		el.droppedCount.Add(1)
		return false
	}

	el.buffer[head%EventBufferSize] = LoggedEvent{
		Sequence: head + 1,
		At:       el.now(),
		Type:     ev.Kind(),
		Data:     ev,
	}
	el.writeHead.Store(head + 1)
	el.totalCount.Add(1)
	return true
}

func (el *EventLog) playerLimiter(username string) *rate.Limiter {
	now := el.now()
	if entry, ok := el.playerLimiters[username]; ok {
		entry.lastUsed = now
		return entry.limiter
	}

	// Sweep on insert; only the session goroutine touches the map.
	for name, entry := range el.playerLimiters {
		if now.Sub(entry.lastUsed) > PlayerLimiterTTL {
			delete(el.playerLimiters, name)
		}
	}

	entry := &playerLimiterEntry{
		limiter:  rate.NewLimiter(MaxShotsPerPlayer, MaxShotsPerPlayer),
		lastUsed: now,
	}
	el.playerLimiters[username] = entry
	return entry.limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]LoggedEvent, 0, BatchFlushSize)

	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}

		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

func (el *EventLog) collectBatch(batch []LoggedEvent) []LoggedEvent {
	head := el.writeHead.Load()
	tail := el.readHead.Load()

	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		batch = append(batch, el.buffer[i%EventBufferSize])
	}

	if len(batch) > 0 {
		el.readHead.Add(uint64(len(batch)))
	}
	return batch
}

// flushBatch appends events to disk as newline-delimited JSON.
func (el *EventLog) flushBatch(batch []LoggedEvent) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.file == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.file.Write(append(data, '\n'))
	}
}

// GetStats returns counters for /api/stats.
func (el *EventLog) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": el.writeHead.Load() - el.readHead.Load(),
		"running": el.running.Load(),
	}
}
