// Package match is the Match Coordinator (spec §4.D): match creation,
// report intake, resolution rules, and the Elo rating update.
package match

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

// Category is the resolved outcome of a two-sided report.
type Category string

const (
	CategoryConsistent Category = "consistent"
	CategoryDisputed   Category = "disputed"
	CategoryCancel     Category = "cancel"
)

const (
	historyWin      = "勝利"
	historyLose     = "敗北"
	historyCancel   = "対戦中止"
	historyDisputed = "結果不一致"

	timeLayout = "2006-01-02 15:04:05"
)

// Coordinator implements the Match Coordinator against a Store Gateway and
// a Session Table. It satisfies internal/queue.Pairer.
type Coordinator struct {
	store    *store.Store
	sessions *session.Table
	log      *zap.Logger
}

// New constructs a Coordinator.
func New(st *store.Store, sessions *session.Table, log *zap.Logger) *Coordinator {
	return &Coordinator{store: st, sessions: sessions, log: log}
}

// CreateMatch persists a new match for p1 (the initiator, earlier in the
// queue) and p2, cross-links their sessions, and notifies both connections
// with match_found. Satisfies internal/queue.Pairer.
func (c *Coordinator) CreateMatch(p1, p2 uuid.UUID) error {
	m, err := c.store.InsertMatch(p1, p2)
	if err != nil {
		return fmt.Errorf("match: create: %w", err)
	}

	if err := c.store.PatchUser(p1, store.FieldCurrentMatchID, m.ID); err != nil {
		c.log.Warn("patch currentMatchId failed", zap.String("user", p1.String()), zap.Error(err))
	}
	if err := c.store.PatchUser(p2, store.FieldCurrentMatchID, m.ID); err != nil {
		c.log.Warn("patch currentMatchId failed", zap.String("user", p2.String()), zap.Error(err))
	}

	u1, err1 := c.store.FetchUser(p1)
	u2, err2 := c.store.FetchUser(p2)
	if err1 != nil || err2 != nil {
		c.log.Warn("fetch participant failed during match creation", zap.Error(err1), zap.Error(err2))
	}

	s1, live1 := c.sessions.GetByUser(p1)
	s2, live2 := c.sessions.GetByUser(p2)

	if live1 && live2 {
		c.sessions.SetOpponent(s1.ConnID, s2.ConnID, m.ID)
		c.sessions.SetOpponent(s2.ConnID, s1.ConnID, m.ID)
	}

	if live1 && u2 != nil {
		c.sessions.Send(s1.ConnID, frame.Event("match_found", frame.M{
			"matchId":          m.ID.String(),
			"opponentId":       p2.String(),
			"opponentUsername": u2.Username,
			"isInitiator":      true,
		}))
	}
	if live2 && u1 != nil {
		c.sessions.Send(s2.ConnID, frame.Event("match_found", frame.M{
			"matchId":          m.ID.String(),
			"opponentId":       p1.String(),
			"opponentUsername": u1.Username,
			"isInitiator":      false,
		}))
	}

	c.log.Info("match created", zap.String("match_id", m.ID.String()),
		zap.String("p1", p1.String()), zap.String("p2", p2.String()))
	return nil
}

// ReportResult handles a report_result frame per spec §4.D. On success it
// returns the reply owed to the reporter; resolution notifications (if any)
// to both participants are sent as a side effect before returning.
func (c *Coordinator) ReportResult(reporterID, matchID uuid.UUID, result store.Report) (frame.M, error) {
	if !result.Valid() {
		return nil, ErrInvalidReport
	}

	m, err := c.store.FetchMatch(matchID)
	if err != nil {
		return nil, err
	}
	if m.ResolvedAt != nil {
		return nil, ErrAlreadyResolved
	}

	slot := m.Slot(reporterID)
	if slot == 0 {
		return nil, ErrNotParticipant
	}
	if m.Report(slot) != nil {
		return nil, ErrDuplicateReport
	}

	if err := c.store.PatchMatchReport(matchID, slot, result); err != nil {
		return nil, err
	}

	// Re-fetch: the opponent's report may have landed concurrently between
	// our initial read and this write, and only a fresh read can see it.
	fresh, err := c.store.FetchMatch(matchID)
	if err != nil {
		return nil, err
	}

	oppositeSlot := 3 - slot
	oppReport := fresh.Report(oppositeSlot)
	if oppReport == nil {
		return frame.Success("report_result_response", frame.M{"status": "pending"}), nil
	}

	return c.resolve(fresh, slot, result, *oppReport)
}

// resolve decides the outcome category for a fully-reported match and, if
// this call wins the resolved_at guard, applies the rating/history update
// and notifies both connections. If it loses the guard (a concurrent report
// path resolved first), it applies nothing and returns a reply whose status
// is "already_resolved", without the outcome category.
func (c *Coordinator) resolve(m *store.Match, reporterSlot int, reporterReport store.Report, opponentReport store.Report) (frame.M, error) {
	now := time.Now()
	won, err := c.store.MarkMatchResolved(m.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return frame.Success("report_result_response", frame.M{"status": "already_resolved"}), nil
	}

	p1Report, p2Report := opponentReport, reporterReport
	if reporterSlot == 1 {
		p1Report, p2Report = reporterReport, opponentReport
	}

	category, winnerSlot := decideCategory(p1Report, p2Report)

	u1, err := c.store.FetchUser(m.Player1ID)
	if err != nil {
		return nil, err
	}
	u2, err := c.store.FetchUser(m.Player2ID)
	if err != nil {
		return nil, err
	}

	var p1NewRate, p2NewRate int
	p1NewRate, p2NewRate = u1.Rate, u2.Rate

	switch category {
	case CategoryConsistent:
		if winnerSlot == 1 {
			d1, d2 := eloDeltas(u1.Rate, u2.Rate)
			p1NewRate, p2NewRate = u1.Rate+d1, u2.Rate+d2
		} else {
			d2, d1 := eloDeltas(u2.Rate, u1.Rate)
			p2NewRate, p1NewRate = u2.Rate+d2, u1.Rate+d1
		}
	case CategoryCancel, CategoryDisputed:
		// rates unchanged
	}

	p1Entry := historyEntry(category, winnerSlot == 1, now, u1.Rate, p1NewRate)
	p2Entry := historyEntry(category, winnerSlot == 2, now, u2.Rate, p2NewRate)

	c.applyResolution(m.Player1ID, u1, p1NewRate, p1Entry)
	c.applyResolution(m.Player2ID, u2, p2NewRate, p2Entry)

	c.notifyResolution(m.Player1ID, m.ID, category, p1NewRate, p1Entry)
	c.notifyResolution(m.Player2ID, m.ID, category, p2NewRate, p2Entry)

	c.log.Info("match resolved", zap.String("match_id", m.ID.String()), zap.String("category", string(category)))

	reply := frame.Success("report_result_response", frame.M{
		"status":   "resolved",
		"category": string(category),
	})
	return reply, nil
}

// decideCategory applies the strict-order resolution rules from spec §4.D
// and, for a consistent outcome, reports which slot won.
func decideCategory(p1, p2 store.Report) (category Category, winnerSlot int) {
	if p1 == store.ReportCancel && p2 == store.ReportCancel {
		return CategoryCancel, 0
	}
	if p1 == store.ReportWin && p2 == store.ReportLose {
		return CategoryConsistent, 1
	}
	if p1 == store.ReportLose && p2 == store.ReportWin {
		return CategoryConsistent, 2
	}
	return CategoryDisputed, 0
}

func historyEntry(category Category, won bool, at time.Time, oldRate, newRate int) string {
	ts := at.Format(timeLayout)
	switch category {
	case CategoryCancel:
		return fmt.Sprintf("%s %s", ts, historyCancel)
	case CategoryDisputed:
		return fmt.Sprintf("%s %s", ts, historyDisputed)
	case CategoryConsistent:
		label := historyLose
		if won {
			label = historyWin
		}
		return fmt.Sprintf("%s %s (%d→%d)", ts, label, oldRate, newRate)
	default:
		return ts
	}
}

// applyResolution patches a resolved player's rate, prepends their history
// entry (capped at HistoryCap), clears their currentMatchId, and clears
// their session's opponent pointer.
func (c *Coordinator) applyResolution(userID uuid.UUID, u *store.User, newRate int, entry string) {
	if newRate != u.Rate {
		if err := c.store.PatchUser(userID, store.FieldRate, newRate); err != nil {
			c.log.Warn("patch rate failed", zap.String("user", userID.String()), zap.Error(err))
		}
	}

	history := append([]string{entry}, u.MatchHistory...)
	if len(history) > store.HistoryCap {
		history = history[:store.HistoryCap]
	}
	if err := c.store.PatchUser(userID, store.FieldMatchHistory, history); err != nil {
		c.log.Warn("patch history failed", zap.String("user", userID.String()), zap.Error(err))
	}

	if err := c.store.PatchUser(userID, store.FieldCurrentMatchID, nil); err != nil {
		c.log.Warn("clear currentMatchId failed", zap.String("user", userID.String()), zap.Error(err))
	}

	if s, ok := c.sessions.GetByUser(userID); ok {
		c.sessions.ClearOpponent(s.ConnID)
	}
}

// notifyResolution pushes the resolution event to userID's connection, if
// still open. A closed connection is benign — the persisted state is
// authoritative on next login.
func (c *Coordinator) notifyResolution(userID, matchID uuid.UUID, category Category, newRate int, entry string) {
	s, ok := c.sessions.GetByUser(userID)
	if !ok {
		return
	}
	c.sessions.Send(s.ConnID, frame.Event("match_resolved", frame.M{
		"matchId":     matchID.String(),
		"category":    string(category),
		"rate":        newRate,
		"historyHead": entry,
	}))
}

// ClearMatchInfo implements clear_match_info: drops the session's opponent
// pointer and nulls the user's currentMatchId, without touching the store's
// match row (per spec §9 Open Question (a), resolution always consults the
// store directly and never relies on this pointer).
func (c *Coordinator) ClearMatchInfo(userID uuid.UUID, connID session.ConnID) error {
	c.sessions.ClearOpponent(connID)
	return c.store.PatchUser(userID, store.FieldCurrentMatchID, nil)
}
