package game

import "errors"

var (
	// ErrPlayerCap is returned by Join when every slot is taken.
	ErrPlayerCap = errors.New("player cap reached")
	// ErrNameTaken is returned by Join when another identity holds the name.
	ErrNameTaken = errors.New("display name already taken")
	// ErrInvalidShot is returned by Fire for coordinates outside the field.
	ErrInvalidShot = errors.New("shot outside the field")
	// ErrUnknownToken is returned when no player holds the token.
	ErrUnknownToken = errors.New("unknown player token")
	// ErrInvalidTuning is returned by Configure for non-positive or
	// non-finite values.
	ErrInvalidTuning = errors.New("invalid tuning")
	// ErrSessionClosed is returned once the session loop has exited.
	ErrSessionClosed = errors.New("session closed")
)
