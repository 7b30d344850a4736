// Package ratelimit implements sliding-window admission control keyed by
// (identity, endpoint). Each pair keeps the timestamps of its admitted
// requests inside the trailing window; old entries are evicted lazily on
// every check, so budgets drain continuously instead of resetting at fixed
// bucket boundaries.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Rule configures one endpoint: at most Max admissions inside any trailing
// Window.
type Rule struct {
	Window time.Duration
	Max    int
}

// Decision is the result of an admission check.
// RetryAfter is only meaningful when Allowed is false and is expressed in
// whole seconds, rounded up.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

type windowKey struct {
	identity string
	endpoint string
}

// Limiter tracks request windows for every identity+endpoint pair.
// Different endpoints have independent budgets.
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	windows map[windowKey][]time.Time

	now func() time.Time
}

// New creates a limiter with one rule per endpoint.
func New(rules map[string]Rule) *Limiter {
	copied := make(map[string]Rule, len(rules))
	for endpoint, rule := range rules {
		copied[endpoint] = rule
	}
	return &Limiter{
		rules:   copied,
		windows: make(map[windowKey][]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock used by Allow. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Rule returns the rule registered for an endpoint.
func (l *Limiter) Rule(endpoint string) (Rule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rule, ok := l.rules[endpoint]
	return rule, ok
}

// Allow is Admit evaluated at the limiter's clock. The clock is read under
// the lock so concurrent callers record in call order.
func (l *Limiter) Allow(identity, endpoint string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admitLocked(identity, endpoint, l.now())
}

// Admit prunes the pair's window, then either records now and allows, or
// denies with the number of seconds until the oldest surviving entry
// leaves the window. Endpoints without a rule are always allowed and are not
// recorded.
func (l *Limiter) Admit(identity, endpoint string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admitLocked(identity, endpoint, now)
}

func (l *Limiter) admitLocked(identity, endpoint string, now time.Time) Decision {
	rule, ok := l.rules[endpoint]
	if !ok {
		return Decision{Allowed: true}
	}

	key := windowKey{identity: identity, endpoint: endpoint}
	live := prune(l.windows[key], now, rule.Window)

	if len(live) >= rule.Max {
		l.windows[key] = live
		return Decision{Allowed: false, RetryAfter: retryAfter(live, now, rule.Window)}
	}

	l.windows[key] = insertSorted(live, now)
	return Decision{Allowed: true}
}

// Len reports how many live entries the pair holds at now.
func (l *Limiter) Len(identity, endpoint string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule, ok := l.rules[endpoint]
	if !ok {
		return 0
	}
	return len(prune(l.windows[windowKey{identity, endpoint}], now, rule.Window))
}

// Reset forgets every recorded request.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.windows = make(map[windowKey][]time.Time)
	l.mu.Unlock()
}

// Sweep drops pairs whose windows are fully expired and returns how many
// were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, entries := range l.windows {
		live := prune(entries, now, l.rules[key.endpoint].Window)
		if len(live) == 0 {
			delete(l.windows, key)
			removed++
			continue
		}
		l.windows[key] = live
	}
	return removed
}

// Run sweeps expired windows every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.sweepLocked(l.now())
			l.mu.Unlock()
		}
	}
}

// insertSorted adds t keeping entries ascending. A caller passing an older
// now than the last recorded one lands before it, not after.
func insertSorted(entries []time.Time, t time.Time) []time.Time {
	i := len(entries)
	for i > 0 && entries[i-1].After(t) {
		i--
	}
	entries = append(entries, time.Time{})
	copy(entries[i+1:], entries[i:])
	entries[i] = t
	return entries
}

// prune keeps entries strictly younger than window. Entries are kept
// ascending, so the surviving suffix starts at the first young entry.
func prune(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(entries) && now.Sub(entries[i]) >= window {
		i++
	}
	if i == 0 {
		return entries
	}
	live := make([]time.Time, len(entries)-i)
	copy(live, entries[i:])
	return live
}

func retryAfter(live []time.Time, now time.Time, window time.Duration) int {
	if len(live) == 0 {
		// Max is zero: nothing will ever be admitted, report a full window.
		return int(math.Max(1, math.Ceil(window.Seconds())))
	}
	remaining := window - now.Sub(live[0])
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Endpoints guarded by the game API.
const (
	EndpointJoin   = "join"
	EndpointFire   = "fire"
	EndpointTarget = "target"
)

// DefaultRules are the stock budgets: 10 joins a minute, one shot every two
// seconds and one position query a second.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		EndpointJoin:   {Window: time.Minute, Max: 10},
		EndpointFire:   {Window: 2 * time.Second, Max: 1},
		EndpointTarget: {Window: time.Second, Max: 1},
	}
}
