// Package protocol defines the realtime channel between the game server and
// its viewers: a closed set of event kinds, the envelope they travel in and
// the codecs used to frame them.
package protocol

// EventKind names an event on the wire.
type EventKind string

const (
	KindObjectPosition EventKind = "objectPosition"
	KindNewShot        EventKind = "newShot"
	KindGameOver       EventKind = "gameOver"
	KindGameReset      EventKind = "gameReset"
	KindUserList       EventKind = "updateUserList"
)

// KindResetGame is the only client -> server message.
const KindResetGame = "resetGame"

// Event is a server -> client event. The set of implementations is closed:
// ObjectPosition, NewShot, GameOver, GameReset and UserList.
type Event interface {
	Kind() EventKind
	isEvent()
}

// ObjectPosition is the authoritative target position, sent every tick and
// once to each new connection.
type ObjectPosition struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// NewShot announces a shot fired by a player. Timestamp is unix milliseconds.
type NewShot struct {
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	Username  string  `json:"username" msgpack:"username"`
	Color     string  `json:"color" msgpack:"color"`
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"`
}

// GameOver is sent once when the first hit ends the game.
type GameOver struct {
	Winner string `json:"winner" msgpack:"winner"`
}

// GameReset tells viewers to clear their state.
type GameReset struct{}

// UserEntry is one row of the roster.
type UserEntry struct {
	Username string `json:"username" msgpack:"username"`
	Color    string `json:"color" msgpack:"color"`
}

// UserList is the roster snapshot.
type UserList []UserEntry

func (ObjectPosition) Kind() EventKind { return KindObjectPosition }
func (NewShot) Kind() EventKind        { return KindNewShot }
func (GameOver) Kind() EventKind       { return KindGameOver }
func (GameReset) Kind() EventKind      { return KindGameReset }
func (UserList) Kind() EventKind       { return KindUserList }

func (ObjectPosition) isEvent() {}
func (NewShot) isEvent()        {}
func (GameOver) isEvent()       {}
func (GameReset) isEvent()      {}
func (UserList) isEvent()       {}

// Kinds lists every server -> client event kind in a stable order.
func Kinds() []EventKind {
	return []EventKind{
		KindObjectPosition,
		KindNewShot,
		KindGameOver,
		KindGameReset,
		KindUserList,
	}
}

// newEvent returns a zero value pointer for kind, ready to be decoded into.
func newEvent(kind EventKind) (any, bool) {
	switch kind {
	case KindObjectPosition:
		return &ObjectPosition{}, true
	case KindNewShot:
		return &NewShot{}, true
	case KindGameOver:
		return &GameOver{}, true
	case KindGameReset:
		return &GameReset{}, true
	case KindUserList:
		return &UserList{}, true
	default:
		return nil, false
	}
}

// deref turns the pointer produced by newEvent back into an Event value.
func deref(v any) Event {
	switch e := v.(type) {
	case *ObjectPosition:
		return *e
	case *NewShot:
		return *e
	case *GameOver:
		return *e
	case *GameReset:
		return *e
	case *UserList:
		if *e == nil {
			return UserList{}
		}
		return *e
	default:
		return nil
	}
}
