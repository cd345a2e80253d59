package game

import "errors"

// ErrRoomUnavailable is returned when a join targets a room that is
// missing or no longer in the lobby. The two causes are intentionally
// collapsed into one error; see events.CodeRoomNotFoundOrStarted.
var ErrRoomUnavailable = errors.New("room not found or already started")
