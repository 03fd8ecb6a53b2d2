package hub

import (
	"errors"

	"github.com/Omezi42/anokoro-tcg-backend/internal/match"
	"github.com/Omezi42/anokoro-tcg-backend/internal/spectate"
	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

// Error kinds surfaced to clients, per spec §7.
const (
	KindValidation = "validation"
	KindAuth       = "auth"
	KindConflict   = "conflict"
	KindNotFound   = "not-found"
	KindState      = "state"
	KindTransient  = "transient"
	KindInternal   = "internal"
)

// classify maps a component-level sentinel error to a client-facing kind
// and a safe message, per spec §7's propagation policy: store exceptions
// never leak internals, but the caller still learns why the request failed.
func classify(err error) (kind, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound, "not found"
	case errors.Is(err, store.ErrUniqueViolation):
		return KindConflict, "already in use"
	case errors.Is(err, store.ErrTransient):
		return KindTransient, "store unavailable, try again"
	case errors.Is(err, match.ErrAlreadyResolved):
		return KindState, "match already resolved"
	case errors.Is(err, match.ErrNotParticipant):
		return KindAuth, "not a participant in that match"
	case errors.Is(err, match.ErrDuplicateReport):
		return KindConflict, "result already reported"
	case errors.Is(err, match.ErrInvalidReport):
		return KindValidation, "invalid result value"
	case errors.Is(err, spectate.ErrRoomNotFound):
		return KindNotFound, "room not found"
	case errors.Is(err, spectate.ErrNotOwner):
		return KindAuth, "not the room owner"
	case errors.Is(err, spectate.ErrNotSpectator):
		return KindState, "not a spectator of that room"
	case errors.Is(err, spectate.ErrAlreadyOwning):
		return KindConflict, "already broadcasting"
	default:
		return KindInternal, "internal error"
	}
}
