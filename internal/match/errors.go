package match

import "errors"

// Sentinel errors specific to report handling. An unknown matchId has no
// sentinel here: it surfaces the store's own store.ErrNotFound, which the
// router maps to the "not-found" kind.
var (
	ErrAlreadyResolved = errors.New("match: already resolved")
	ErrNotParticipant  = errors.New("match: reporter is not a participant")
	ErrDuplicateReport = errors.New("match: duplicate report")
	ErrInvalidReport   = errors.New("match: invalid report value")
)
