package room

import "errors"

var (
	ErrCapacityExceeded = errors.New("room is at capacity")
	ErrCapacityTooSmall = errors.New("capacity is below the current participant count")
	// ErrAlreadyMember is informational: the user is in the room already.
	ErrAlreadyMember     = errors.New("already a member of this room")
	ErrNotFound          = errors.New("room not found")
	ErrInvalidContent    = errors.New("a room needs exactly one of video or playlist")
	ErrInvalidAccessCode = errors.New("access code must be 8 characters from A-Z and 0-9")
	ErrNotPrivate        = errors.New("room is not private")
	ErrForbidden         = errors.New("not allowed in this room")
)
