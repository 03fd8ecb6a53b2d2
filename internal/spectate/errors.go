package spectate

import "errors"

var (
	ErrRoomNotFound  = errors.New("spectate: room not found")
	ErrNotOwner      = errors.New("spectate: not the room owner")
	ErrNotSpectator  = errors.New("spectate: not a current spectator of that room")
	ErrAlreadyOwning = errors.New("spectate: connection already owns a room")
)
