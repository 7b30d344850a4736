package game

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/exp/rand"

	"fax-hunt/internal/protocol"
)

// State is the lifecycle phase of a game.
type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// Fire outcome messages.
const (
	MessageGameOver = "Game Over"
	MessageMiss     = "Missed the target"
	MessageHit      = "Target hit! You won the game!"
)

// Reset reasons reported to hooks and logs.
const (
	ResetAuto     = "auto"
	ResetOperator = "operator"
	ResetClient   = "client"
)

// Publisher receives every event the session emits. Publish is called from
// the session loop and must not block.
type Publisher interface {
	Publish(ev protocol.Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev protocol.Event)

func (f PublisherFunc) Publish(ev protocol.Event) { f(ev) }

// Admission is the part of the rate limiter the session clears on reset.
type Admission interface {
	Reset()
}

// SessionConfig holds everything a session needs at construction.
type SessionConfig struct {
	Motion         MotionConfig
	Field          Bounds // shots outside are rejected
	HitRadius      float64
	MinHitRadius   float64
	MaxPlayers     int
	TickInterval   time.Duration
	RosterInterval time.Duration
	ResetDelay     time.Duration
	InboxSize      int
}

// DefaultSessionConfig returns the stock game: a 1024x600 field, target kept
// 20px away from the edges, 20 ticks per second.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Motion: MotionConfig{
			Bounds:       Bounds{MinX: 20, MinY: 20, MaxX: 1000, MaxY: 580},
			Start:        Vec{X: 400, Y: 300},
			MinSpeed:     20,
			MaxSpeed:     60,
			ChangeChance: 0.05,
			Seed:         uint64(time.Now().UnixNano()),
		},
		Field:          Bounds{MinX: 0, MinY: 0, MaxX: 1024, MaxY: 600},
		HitRadius:      20,
		MinHitRadius:   10,
		MaxPlayers:     10,
		TickInterval:   50 * time.Millisecond,
		RosterInterval: 10 * time.Second,
		ResetDelay:     20 * time.Second,
		InboxSize:      64,
	}
}

// Hooks are optional callbacks invoked from the session loop.
type Hooks struct {
	OnTick   func(elapsed time.Duration)
	OnShot   func(player string, shot Vec, hit bool)
	OnWin    func(winner string)
	OnReset  func(reason string)
	OnRoster func(players int)
}

// JoinRequest asks for a player slot.
type JoinRequest struct {
	Identity string
	Name     string
}

// PlayerView is what a joining client learns about its assignment.
type PlayerView struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// FireResult is the outcome of a shot.
type FireResult struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Hit     bool   `json:"hit"`
}

// Tuning changes the difficulty. Nil fields are left unchanged.
type Tuning struct {
	Speed *float64
	Area  *float64
}

// TuningResult reports the values in effect after Configure.
type TuningResult struct {
	MaxSpeed  float64 `json:"maxSpeed"`
	HitRadius float64 `json:"hitRadius"`
}

// Snapshot is an immutable view of the session, safe to share between
// goroutines.
type Snapshot struct {
	State     State     `json:"state"`
	Winner    string    `json:"winner,omitempty"`
	Target    Vec       `json:"target"`
	Velocity  Vec       `json:"velocity"`
	HitRadius float64   `json:"hitRadius"`
	MaxSpeed  float64   `json:"maxSpeed"`
	Players   []Player  `json:"players"`
	Tick      uint64    `json:"tick"`
	At        time.Time `json:"at"`
}

// HasIdentity reports whether identity holds a player slot.
func (s *Snapshot) HasIdentity(identity string) bool {
	for _, p := range s.Players {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

// HasToken reports whether token belongs to a current player.
func (s *Snapshot) HasToken(token string) bool {
	for _, p := range s.Players {
		if p.Token == token {
			return true
		}
	}
	return false
}

// Session is one game. All state is owned by the goroutine running Run;
// other goroutines talk to it through the inbox and read Snapshot.
type Session struct {
	cfg        SessionConfig
	sim        *Simulator
	players    *Registry
	admission  Admission
	publishers []Publisher
	hooks      Hooks

	state  State
	winner string
	radius float64
	tick   uint64

	resetTimer *time.Timer
	resetC     <-chan time.Time

	inbox    chan any
	done     chan struct{}
	snapshot atomic.Pointer[Snapshot]
	now      func() time.Time
}

// NewSession creates a session in the Active state. admission may be nil.
func NewSession(cfg SessionConfig, admission Admission, pubs ...Publisher) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.RosterInterval <= 0 {
		cfg.RosterInterval = 10 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	cfg.HitRadius = math.Max(cfg.MinHitRadius, cfg.HitRadius)

	s := &Session{
		cfg:        cfg,
		sim:        NewSimulator(cfg.Motion),
		players:    NewRegistry(cfg.MaxPlayers, rand.New(rand.NewSource(cfg.Motion.Seed+1))),
		admission:  admission,
		publishers: pubs,
		state:      StateActive,
		radius:     cfg.HitRadius,
		inbox:      make(chan any, cfg.InboxSize),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	s.storeSnapshot()
	return s
}

// AddPublisher registers another event sink. Call before Run.
func (s *Session) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// SetHooks installs the callbacks. Call before Run.
func (s *Session) SetHooks(h Hooks) {
	s.hooks = h
}

// Config returns the configuration the session was built with.
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

type joinCmd struct {
	req   JoinRequest
	reply chan joinReply
}

type joinReply struct {
	view PlayerView
	err  error
}

type fireCmd struct {
	token string
	shot  Vec
	reply chan fireReply
}

type fireReply struct {
	result FireResult
	err    error
}

type resetCmd struct {
	reason      string
	onlyIfEnded bool
	reply       chan bool
}

type configureCmd struct {
	tuning Tuning
	reply  chan configureReply
}

type configureReply struct {
	result TuningResult
	err    error
}

type removeCmd struct {
	token string
	reply chan bool
}

// Run drives the session until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	roster := time.NewTicker(s.cfg.RosterInterval)
	defer roster.Stop()
	defer s.cancelAutoReset()

	log.Printf("🎯 Session started (tick %s, %d player slots)", s.cfg.TickInterval, s.cfg.MaxPlayers)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Session stopped")
			return ctx.Err()
		case cmd := <-s.inbox:
			s.handle(cmd)
		case <-ticker.C:
			s.step()
		case <-roster.C:
			s.publishRoster()
		case <-s.resetC:
			s.resetTimer, s.resetC = nil, nil
			s.autoReset()
		}
	}
}

func (s *Session) handle(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		view, err := s.join(c.req)
		c.reply <- joinReply{view: view, err: err}
	case fireCmd:
		result, err := s.fire(c.token, c.shot)
		c.reply <- fireReply{result: result, err: err}
	case resetCmd:
		if c.onlyIfEnded && s.state != StateEnded {
			c.reply <- false
			return
		}
		s.reset(c.reason)
		c.reply <- true
	case configureCmd:
		result, err := s.configure(c.tuning)
		c.reply <- configureReply{result: result, err: err}
	case removeCmd:
		c.reply <- s.remove(c.token)
	default:
		log.Printf("⚠️ Session ignored unknown command %T", cmd)
	}
}

// Join registers a player.
func (s *Session) Join(ctx context.Context, req JoinRequest) (PlayerView, error) {
	r, err := call(ctx, s, func(reply chan joinReply) any { return joinCmd{req: req, reply: reply} })
	if err != nil {
		return PlayerView{}, err
	}
	return r.view, r.err
}

// Fire resolves a shot at (x, y) for the player holding token.
func (s *Session) Fire(ctx context.Context, token string, x, y float64) (FireResult, error) {
	r, err := call(ctx, s, func(reply chan fireReply) any {
		return fireCmd{token: token, shot: Vec{X: x, Y: y}, reply: reply}
	})
	if err != nil {
		return FireResult{}, err
	}
	return r.result, r.err
}

// Reset starts a fresh game immediately.
func (s *Session) Reset(ctx context.Context, reason string) error {
	_, err := call(ctx, s, func(reply chan bool) any { return resetCmd{reason: reason, reply: reply} })
	return err
}

// ResetIfEnded resets only a finished game and reports whether it did.
func (s *Session) ResetIfEnded(ctx context.Context, reason string) (bool, error) {
	return call(ctx, s, func(reply chan bool) any {
		return resetCmd{reason: reason, onlyIfEnded: true, reply: reply}
	})
}

// Configure applies operator tuning.
func (s *Session) Configure(ctx context.Context, t Tuning) (TuningResult, error) {
	r, err := call(ctx, s, func(reply chan configureReply) any { return configureCmd{tuning: t, reply: reply} })
	if err != nil {
		return TuningResult{}, err
	}
	return r.result, r.err
}

// Remove drops a player and reports whether the token was known.
func (s *Session) Remove(ctx context.Context, token string) (bool, error) {
	return call(ctx, s, func(reply chan bool) any { return removeCmd{token: token, reply: reply} })
}

// call posts a command built around a fresh reply channel and waits for the
// loop to answer.
func call[T any](ctx context.Context, s *Session, build func(chan T) any) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case s.inbox <- build(reply):
	case <-s.done:
		return zero, ErrSessionClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-s.done:
		return zero, ErrSessionClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Session) step() {
	if s.state != StateActive {
		return
	}
	start := time.Now()

	pos := s.sim.Tick()
	s.tick++
	s.emit(protocol.ObjectPosition{X: pos.X, Y: pos.Y})
	s.storeSnapshot()

	if s.hooks.OnTick != nil {
		s.hooks.OnTick(time.Since(start))
	}
}

func (s *Session) join(req JoinRequest) (PlayerView, error) {
	p, added, err := s.players.Add(req.Identity, req.Name)
	if err != nil {
		return PlayerView{}, err
	}
	if added {
		log.Printf("👤 %s joined (%d/%d)", p.Name, s.players.Len(), s.cfg.MaxPlayers)
		s.storeSnapshot()
		s.publishRoster()
	}
	return PlayerView{Token: p.Token, Username: p.Name, Color: p.Color}, nil
}

func (s *Session) fire(token string, shot Vec) (FireResult, error) {
	if s.state == StateEnded {
		return FireResult{Message: MessageGameOver, Success: false}, nil
	}
	if !s.cfg.Field.Contains(shot) {
		return FireResult{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidShot, shot.X, shot.Y)
	}
	p, ok := s.players.ByToken(token)
	if !ok {
		return FireResult{}, ErrUnknownToken
	}

	s.emit(protocol.NewShot{
		X:         shot.X,
		Y:         shot.Y,
		Username:  p.Name,
		Color:     p.Color,
		Timestamp: s.now().UnixMilli(),
	})

	hit := Resolve(shot, s.sim.Position(), s.radius)
	if s.hooks.OnShot != nil {
		s.hooks.OnShot(p.Name, shot, hit)
	}
	if !hit {
		return FireResult{Message: MessageMiss, Success: true}, nil
	}

	s.state = StateEnded
	s.winner = p.Name
	log.Printf("🏆 %s hit the target at (%.0f, %.0f)", p.Name, shot.X, shot.Y)
	s.emit(protocol.GameOver{Winner: p.Name})
	s.storeSnapshot()
	s.scheduleAutoReset()

	if s.hooks.OnWin != nil {
		s.hooks.OnWin(p.Name)
	}
	return FireResult{Message: MessageHit, Success: true, Hit: true}, nil
}

func (s *Session) reset(reason string) {
	s.cancelAutoReset()
	s.players.Clear()
	s.state = StateActive
	s.winner = ""
	s.tick = 0
	s.sim.Reset()
	if s.admission != nil {
		s.admission.Reset()
	}

	log.Printf("🔄 Game reset (%s)", reason)
	s.emit(protocol.GameReset{})
	s.storeSnapshot()
	s.publishRoster()

	if s.hooks.OnReset != nil {
		s.hooks.OnReset(reason)
	}
}

// autoReset runs when the post-win timer fires. A game that is already
// active without a winner was reset by someone else in the meantime.
func (s *Session) autoReset() {
	if s.state == StateActive && s.winner == "" {
		return
	}
	s.reset(ResetAuto)
}

func (s *Session) configure(t Tuning) (TuningResult, error) {
	if t.Speed != nil && !positiveFinite(*t.Speed) {
		return TuningResult{}, fmt.Errorf("%w: speed %v", ErrInvalidTuning, *t.Speed)
	}
	if t.Area != nil && !positiveFinite(*t.Area) {
		return TuningResult{}, fmt.Errorf("%w: area %v", ErrInvalidTuning, *t.Area)
	}

	if t.Speed != nil {
		s.sim.SetMaxSpeed(*t.Speed)
	}
	if t.Area != nil {
		s.radius = math.Max(s.cfg.MinHitRadius, *t.Area)
	}
	s.storeSnapshot()

	log.Printf("⚙️ Tuning: max speed %.0f, hit radius %.0f", s.sim.MaxSpeed(), s.radius)
	return TuningResult{MaxSpeed: s.sim.MaxSpeed(), HitRadius: s.radius}, nil
}

func (s *Session) remove(token string) bool {
	if !s.players.Remove(token) {
		return false
	}
	s.storeSnapshot()
	s.publishRoster()
	return true
}

func (s *Session) scheduleAutoReset() {
	s.cancelAutoReset()
	if s.cfg.ResetDelay <= 0 {
		return
	}
	s.resetTimer = time.NewTimer(s.cfg.ResetDelay)
	s.resetC = s.resetTimer.C
}

func (s *Session) cancelAutoReset() {
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.resetTimer, s.resetC = nil, nil
}

func (s *Session) publishRoster() {
	list := s.players.List()
	roster := make(protocol.UserList, 0, len(list))
	for _, p := range list {
		roster = append(roster, protocol.UserEntry{Username: p.Name, Color: p.Color})
	}
	s.emit(roster)

	if s.hooks.OnRoster != nil {
		s.hooks.OnRoster(len(list))
	}
}

func (s *Session) emit(ev protocol.Event) {
	for _, p := range s.publishers {
		p.Publish(ev)
	}
}

func (s *Session) storeSnapshot() {
	target := s.sim.Target()
	s.snapshot.Store(&Snapshot{
		State:     s.state,
		Winner:    s.winner,
		Target:    target.Pos,
		Velocity:  target.Vel,
		HitRadius: s.radius,
		MaxSpeed:  s.sim.MaxSpeed(),
		Players:   s.players.List(),
		Tick:      s.tick,
		At:        s.now(),
	})
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
