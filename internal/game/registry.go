package game

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"
)

// Player is a joined participant. The token is the bearer credential used by
// fire and target requests.
type Player struct {
	Token    string `json:"-"`
	Identity string `json:"-"`
	Name     string `json:"username"`
	Color    string `json:"color"`
	order    int
}

// Registry holds the players of the current game. Owned by the session loop.
type Registry struct {
	capacity   int
	byToken    map[string]*Player
	byIdentity map[string]*Player
	byName     map[string]*Player
	joined     int
	rng        *rand.Rand
}

// NewRegistry creates an empty registry admitting at most capacity players.
func NewRegistry(capacity int, rng *rand.Rand) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	r := &Registry{capacity: capacity, rng: rng}
	r.Clear()
	return r
}

// Add registers identity under name, or returns the existing assignment when
// identity already joined. An empty name defaults to the identity.
func (r *Registry) Add(identity, name string) (*Player, bool, error) {
	if p, ok := r.byIdentity[identity]; ok {
		return p, false, nil
	}
	if name == "" {
		name = identity
	}
	if len(r.byIdentity) >= r.capacity {
		return nil, false, ErrPlayerCap
	}
	if _, taken := r.byName[name]; taken {
		return nil, false, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	p := &Player{
		Token:    uuid.NewString(),
		Identity: identity,
		Name:     name,
		Color:    fmt.Sprintf("#%06X", r.rng.Intn(0x1000000)),
		order:    r.joined,
	}
	r.joined++
	r.byToken[p.Token] = p
	r.byIdentity[identity] = p
	r.byName[name] = p
	return p, true, nil
}

// ByToken looks up a player by bearer token.
func (r *Registry) ByToken(token string) (*Player, bool) {
	p, ok := r.byToken[token]
	return p, ok
}

// Remove drops the player holding token.
func (r *Registry) Remove(token string) bool {
	p, ok := r.byToken[token]
	if !ok {
		return false
	}
	delete(r.byToken, token)
	delete(r.byIdentity, p.Identity)
	delete(r.byName, p.Name)
	return true
}

// Clear removes every player.
func (r *Registry) Clear() {
	r.byToken = make(map[string]*Player)
	r.byIdentity = make(map[string]*Player)
	r.byName = make(map[string]*Player)
}

// Len returns the number of players.
func (r *Registry) Len() int {
	return len(r.byToken)
}

// List returns copies of every player in join order.
func (r *Registry) List() []Player {
	out := make([]Player, 0, len(r.byToken))
	for _, p := range r.byToken {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}
