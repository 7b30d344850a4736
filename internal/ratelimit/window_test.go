package ratelimit

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestAdmitFreshIdentityAllowed(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: 2 * time.Second, Max: 1}})

	d := l.Admit("alice", "fire", epoch)
	if !d.Allowed {
		t.Fatal("first request from a new identity should be allowed")
	}
	if got := l.Len("alice", "fire", epoch); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestAdmitDeniesWithRetryAfter(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: 2 * time.Second, Max: 1}})

	l.Admit("alice", "fire", epoch)
	d := l.Admit("alice", "fire", epoch.Add(300*time.Millisecond))
	if d.Allowed {
		t.Fatal("second request inside window should be denied")
	}
	// 1.7s remain, rounded up.
	if d.RetryAfter != 2 {
		t.Errorf("RetryAfter = %d, want 2", d.RetryAfter)
	}

	d = l.Admit("alice", "fire", epoch.Add(1500*time.Millisecond))
	if d.RetryAfter != 1 {
		t.Errorf("RetryAfter = %d, want 1", d.RetryAfter)
	}
}

func TestAdmitSlidesInsteadOfResetting(t *testing.T) {
	l := New(map[string]Rule{"join": {Window: 60 * time.Second, Max: 3}})

	// Three requests spread over the window.
	l.Admit("ip", "join", epoch)
	l.Admit("ip", "join", epoch.Add(20*time.Second))
	l.Admit("ip", "join", epoch.Add(40*time.Second))

	// Right after the first entry expires exactly one slot frees up.
	if d := l.Admit("ip", "join", epoch.Add(60*time.Second)); !d.Allowed {
		t.Fatal("slot should free up when the oldest entry leaves the window")
	}
	d := l.Admit("ip", "join", epoch.Add(61*time.Second))
	if d.Allowed {
		t.Fatal("window should still be full")
	}
	if d.RetryAfter != 19 {
		t.Errorf("RetryAfter = %d, want 19", d.RetryAfter)
	}
}

func TestAdmitIndependentKeys(t *testing.T) {
	l := New(map[string]Rule{
		"fire":   {Window: 2 * time.Second, Max: 1},
		"target": {Window: time.Second, Max: 1},
	})

	l.Admit("alice", "fire", epoch)

	if d := l.Admit("alice", "target", epoch); !d.Allowed {
		t.Error("different endpoint should have its own budget")
	}
	if d := l.Admit("bob", "fire", epoch); !d.Allowed {
		t.Error("different identity should have its own budget")
	}
}

func TestAdmitUnknownEndpoint(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if d := l.Admit("x", "nowhere", epoch); !d.Allowed {
			t.Fatal("endpoints without a rule should always be allowed")
		}
	}
	if got := l.Len("x", "nowhere", epoch); got != 0 {
		t.Errorf("unknown endpoint should not be recorded, Len = %d", got)
	}
}

func TestResetClearsWindows(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: time.Minute, Max: 1}})
	l.Admit("alice", "fire", epoch)

	l.Reset()

	if d := l.Admit("alice", "fire", epoch.Add(time.Second)); !d.Allowed {
		t.Error("Reset should forget previous requests")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: time.Second, Max: 5}})
	l.Admit("a", "fire", epoch)
	l.Admit("b", "fire", epoch.Add(900*time.Millisecond))

	removed := l.Sweep(epoch.Add(1500 * time.Millisecond))
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if got := l.Len("b", "fire", epoch.Add(1500*time.Millisecond)); got != 1 {
		t.Errorf("live entry for b should survive, Len = %d", got)
	}
}

func TestAllowUsesClock(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: time.Second, Max: 1}})
	now := epoch
	l.SetClock(func() time.Time { return now })

	if !l.Allow("a", "fire").Allowed {
		t.Fatal("first Allow should pass")
	}
	if l.Allow("a", "fire").Allowed {
		t.Fatal("second Allow at same instant should be denied")
	}
	now = now.Add(time.Second)
	if !l.Allow("a", "fire").Allowed {
		t.Fatal("Allow after a full window should pass")
	}
}

// TestWindowNeverExceedsMax feeds random schedules through a synthetic clock
// and checks that no trailing window ever contains more than Max admissions.
func TestWindowNeverExceedsMax(t *testing.T) {
	rules := []Rule{
		{Window: time.Second, Max: 1},
		{Window: 2 * time.Second, Max: 3},
		{Window: 60 * time.Second, Max: 10},
	}

	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		for _, rule := range rules {
			l := New(map[string]Rule{"ep": rule})
			identities := []string{"a", "b", "c"}
			admitted := map[string][]time.Time{}

			now := epoch
			for i := 0; i < 500; i++ {
				now = now.Add(time.Duration(rng.Int63n(int64(rule.Window / 4))))
				id := identities[rng.Intn(len(identities))]

				d := l.Admit(id, "ep", now)
				if d.Allowed {
					admitted[id] = append(admitted[id], now)
				} else if d.RetryAfter <= 0 {
					t.Fatalf("seed %d: denied without positive RetryAfter", seed)
				}
				if live := l.Len(id, "ep", now); live > rule.Max {
					t.Fatalf("seed %d: live entries %d exceed max %d", seed, live, rule.Max)
				}
			}

			for id, times := range admitted {
				for i, end := range times {
					count := 0
					for j := i; j >= 0 && end.Sub(times[j]) < rule.Window; j-- {
						count++
					}
					if count > rule.Max {
						t.Fatalf("seed %d id %s: %d admissions within %v, max %d",
							seed, id, count, rule.Window, rule.Max)
					}
				}
			}
		}
	}
}

func TestAdmitOutOfOrderTimestamps(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: 1500 * time.Millisecond, Max: 2}})

	l.Admit("alice", "fire", epoch.Add(2*time.Second))
	l.Admit("alice", "fire", epoch.Add(time.Second))

	at := epoch.Add(2600 * time.Millisecond)
	if got := l.Len("alice", "fire", at); got != 1 {
		t.Errorf("Len = %d, want 1 (the t=1s entry has expired)", got)
	}
	if d := l.Admit("alice", "fire", at); !d.Allowed {
		t.Errorf("Admit = %+v, want allowed", d)
	}
}

func TestAllowRecordsInClockOrder(t *testing.T) {
	l := New(map[string]Rule{"fire": {Window: time.Hour, Max: 1000}})
	var ticks atomic.Int64
	l.SetClock(func() time.Time {
		return epoch.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Allow("alice", "fire")
			}
		}()
	}
	wg.Wait()

	entries := l.windows[windowKey{identity: "alice", endpoint: "fire"}]
	if len(entries) != 400 {
		t.Fatalf("recorded %d entries, want 400", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Before(entries[i-1]) {
			t.Fatalf("entry %d (%v) is older than entry %d (%v)", i, entries[i], i-1, entries[i-1])
		}
	}
}
