package game

import (
	"sort"
	"sync"

	"fax-hunt/internal/protocol"
)

// Leaderboard counts wins per username across rounds. Usernames are only
// unique within a round, so a name reused by another client shares the row.
// Not persisted; it restarts empty with the process.
type Leaderboard struct {
	mu     sync.RWMutex
	wins   map[string]int
	ranked []LeaderboardEntry // sorted, rebuilt on every win
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Rank     int    `json:"rank"`
}

func NewLeaderboard() *Leaderboard {
	return &Leaderboard{wins: make(map[string]int)}
}

// Publish implements Publisher, crediting the winner of each GameOver.
func (lb *Leaderboard) Publish(ev protocol.Event) {
	if over, ok := ev.(protocol.GameOver); ok && over.Winner != "" {
		lb.RecordWin(over.Winner)
	}
}

// RecordWin adds a win for username.
func (lb *Leaderboard) RecordWin(username string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.wins[username]++
	lb.rebuild()
}

// rebuild orders by wins descending, then username. Equal win counts share
// a rank.
func (lb *Leaderboard) rebuild() {
	ranked := make([]LeaderboardEntry, 0, len(lb.wins))
	for name, wins := range lb.wins {
		ranked = append(ranked, LeaderboardEntry{Username: name, Wins: wins})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Wins != ranked[j].Wins {
			return ranked[i].Wins > ranked[j].Wins
		}
		return ranked[i].Username < ranked[j].Username
	})
	for i := range ranked {
		if i > 0 && ranked[i].Wins == ranked[i-1].Wins {
			ranked[i].Rank = ranked[i-1].Rank
		} else {
			ranked[i].Rank = i + 1
		}
	}
	lb.ranked = ranked
}

// GetTop returns the top n rows.
func (lb *Leaderboard) GetTop(n int) []LeaderboardEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if n > len(lb.ranked) {
		n = len(lb.ranked)
	}
	if n <= 0 {
		return []LeaderboardEntry{}
	}
	return append([]LeaderboardEntry(nil), lb.ranked[:n]...)
}

// GetRank returns username's rank, or 0 if it never won.
func (lb *Leaderboard) GetRank(username string) int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	for _, e := range lb.ranked {
		if e.Username == username {
			return e.Rank
		}
	}
	return 0
}

// Length returns the number of usernames with at least one win.
func (lb *Leaderboard) Length() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.ranked)
}
