package store

import (
	"time"

	"github.com/google/uuid"
)

// Report is a player's self-declared match outcome.
type Report string

const (
	ReportWin    Report = "win"
	ReportLose   Report = "lose"
	ReportCancel Report = "cancel"
)

// Valid reports whether r is one of the whitelisted values; the Match
// Coordinator checks it before a report is written.
func (r Report) Valid() bool {
	switch r {
	case ReportWin, ReportLose, ReportCancel:
		return true
	}
	return false
}

// PartialField names one of the enumerated columns update_user_data may patch.
type PartialField string

const (
	FieldRate            PartialField = "rate"
	FieldMatchHistory    PartialField = "matchHistory"
	FieldMemos           PartialField = "memos"
	FieldBattleRecords   PartialField = "battleRecords"
	FieldRegisteredDecks PartialField = "registeredDecks"
	FieldCurrentMatchID  PartialField = "currentMatchId"
	FieldUsername        PartialField = "username"
)

// InitialRating is the Elo rating assigned to a newly registered user.
const InitialRating = 1500

// HistoryCap bounds the retained match-history entries, newest first.
const HistoryCap = 10

// User is a persisted player profile.
type User struct {
	ID              uuid.UUID
	Username        string
	PasswordHash    string
	Rate            int
	MatchHistory    []string
	Memos           string // opaque JSON blob, never inspected by the hub
	BattleRecords   string // opaque JSON blob
	RegisteredDecks string // opaque JSON blob
	CurrentMatchID  *uuid.UUID
	CreatedAt       time.Time
	LastLoginAt     time.Time
}

// Match is a persisted 1v1 pairing and its reports.
type Match struct {
	ID          uuid.UUID
	Player1ID   uuid.UUID
	Player2ID   uuid.UUID
	Player1Rept *Report
	Player2Rept *Report
	ResolvedAt  *time.Time
}

// Slot returns 1 or 2 if userID occupies that slot in the match, or 0 if
// neither.
func (m *Match) Slot(userID uuid.UUID) int {
	switch userID {
	case m.Player1ID:
		return 1
	case m.Player2ID:
		return 2
	default:
		return 0
	}
}

// Report returns the report in the given slot (1 or 2), or nil if unset or
// the slot is invalid.
func (m *Match) Report(slot int) *Report {
	switch slot {
	case 1:
		return m.Player1Rept
	case 2:
		return m.Player2Rept
	default:
		return nil
	}
}

// RankedUser is one row of a ranking listing.
type RankedUser struct {
	ID       uuid.UUID
	Username string
	Rate     int
}
