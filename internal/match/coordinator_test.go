package match

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

type fakeSender struct{ sent []frame.M }

func (f *fakeSender) Send(m frame.M) { f.sent = append(f.sent, m) }
func (f *fakeSender) Close()         {}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, *session.Table) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hub.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := session.New(zap.NewNop())
	return New(st, sessions, zap.NewNop()), st, sessions
}

// setupMatch registers two live connections, pairs them via CreateMatch,
// and returns both users, the persisted match, and each connection's
// fakeSender so a test can inspect what it was sent.
func setupMatch(t *testing.T, st *store.Store, sessions *session.Table, coord *Coordinator) (p1, p2 *store.User, m *store.Match, sender1, sender2 *fakeSender) {
	t.Helper()
	p1, err := st.InsertUser("player1", "pw")
	require.NoError(t, err)
	p2, err = st.InsertUser("player2", "pw")
	require.NoError(t, err)

	sender1, sender2 = &fakeSender{}, &fakeSender{}
	sessions.Register(1, sender1)
	sessions.Register(2, sender2)
	sessions.Bind(1, p1.ID)
	sessions.Bind(2, p2.ID)

	require.NoError(t, coord.CreateMatch(p1.ID, p2.ID))

	p1After, err := st.FetchUser(p1.ID)
	require.NoError(t, err)
	require.NotNil(t, p1After.CurrentMatchID)

	m, err = st.FetchMatch(*p1After.CurrentMatchID)
	require.NoError(t, err)
	return p1, p2, m, sender1, sender2
}

func TestCreateMatchNotifiesBothLiveParticipants(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	_, _, m, sender1, sender2 := setupMatch(t, st, sessions, coord)

	s1, _ := sessions.Get(1)
	s2, _ := sessions.Get(2)
	require.NotNil(t, s1.OpponentConnID)
	require.NotNil(t, s2.OpponentConnID)
	require.Equal(t, session.ConnID(2), *s1.OpponentConnID)
	require.Equal(t, m.ID, *s1.MatchID)

	require.Len(t, sender1.sent, 1)
	require.Equal(t, "match_found", sender1.sent[0]["type"])
	require.Equal(t, true, sender1.sent[0]["isInitiator"])

	require.Len(t, sender2.sent, 1)
	require.Equal(t, false, sender2.sent[0]["isInitiator"])
}

func TestReportResultPendingUntilBothReport(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, p2, m, _, _ := setupMatch(t, st, sessions, coord)

	reply, err := coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.NoError(t, err)
	require.Equal(t, "pending", reply["status"])

	reply, err = coord.ReportResult(p2.ID, m.ID, store.ReportLose)
	require.NoError(t, err)
	require.Equal(t, "resolved", reply["status"])
	require.Equal(t, string(CategoryConsistent), reply["category"])
}

func TestReportResultRejectsDuplicateReport(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, _, m, _, _ := setupMatch(t, st, sessions, coord)

	_, err := coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.NoError(t, err)

	_, err = coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.ErrorIs(t, err, ErrDuplicateReport)
}

func TestReportResultRejectsNonParticipant(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	_, _, m, _, _ := setupMatch(t, st, sessions, coord)

	outsider, err := st.InsertUser("outsider", "pw")
	require.NoError(t, err)

	_, err = coord.ReportResult(outsider.ID, m.ID, store.ReportWin)
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestResolutionCategoriesAndRatingUpdates(t *testing.T) {
	cases := []struct {
		name        string
		p1Report    store.Report
		p2Report    store.Report
		wantCat     Category
		ratesChange bool
	}{
		{"consistent p1 wins", store.ReportWin, store.ReportLose, CategoryConsistent, true},
		{"consistent p2 wins", store.ReportLose, store.ReportWin, CategoryConsistent, true},
		{"disputed", store.ReportWin, store.ReportWin, CategoryDisputed, false},
		{"cancel", store.ReportCancel, store.ReportCancel, CategoryCancel, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coord, st, sessions := newTestCoordinator(t)
			p1, p2, m, _, _ := setupMatch(t, st, sessions, coord)

			_, err := coord.ReportResult(p1.ID, m.ID, tc.p1Report)
			require.NoError(t, err)
			reply, err := coord.ReportResult(p2.ID, m.ID, tc.p2Report)
			require.NoError(t, err)
			require.Equal(t, string(tc.wantCat), reply["category"])

			p1After, err := st.FetchUser(p1.ID)
			require.NoError(t, err)
			p2After, err := st.FetchUser(p2.ID)
			require.NoError(t, err)

			require.Nil(t, p1After.CurrentMatchID)
			require.Nil(t, p2After.CurrentMatchID)
			require.Len(t, p1After.MatchHistory, 1)

			if tc.ratesChange {
				require.NotEqual(t, store.InitialRating, p1After.Rate)
				require.NotEqual(t, store.InitialRating, p2After.Rate)
				require.Equal(t, 0, (p1After.Rate-store.InitialRating)+(p2After.Rate-store.InitialRating))
			} else {
				require.Equal(t, store.InitialRating, p1After.Rate)
				require.Equal(t, store.InitialRating, p2After.Rate)
			}

			freshMatch, err := st.FetchMatch(m.ID)
			require.NoError(t, err)
			require.NotNil(t, freshMatch.ResolvedAt)
		})
	}
}

func TestSecondResolutionAttemptIsIdempotent(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, p2, m, _, _ := setupMatch(t, st, sessions, coord)

	_, err := coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.NoError(t, err)
	_, err = coord.ReportResult(p2.ID, m.ID, store.ReportLose)
	require.NoError(t, err)

	// A racing caller that already validated the not-yet-resolved match and
	// then loses the resolved_at guard should observe already_resolved
	// through the direct guard, never a second Elo application.
	won, err := st.MarkMatchResolved(m.ID, time.Now())
	require.NoError(t, err)
	require.False(t, won)
}

func TestReportResultRejectsAlreadyResolvedMatch(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, p2, m, _, _ := setupMatch(t, st, sessions, coord)

	_, err := coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.NoError(t, err)
	_, err = coord.ReportResult(p2.ID, m.ID, store.ReportLose)
	require.NoError(t, err)

	_, err = coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestHappyPathRatedMatchMatchesLiteralExpectedDeltas(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, p2, m, _, _ := setupMatch(t, st, sessions, coord)

	_, err := coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.NoError(t, err)
	_, err = coord.ReportResult(p2.ID, m.ID, store.ReportLose)
	require.NoError(t, err)

	p1After, err := st.FetchUser(p1.ID)
	require.NoError(t, err)
	p2After, err := st.FetchUser(p2.ID)
	require.NoError(t, err)

	require.Equal(t, 1516, p1After.Rate)
	require.Equal(t, 1484, p2After.Rate)
}

func TestDuplicateReportResolvesOnReporterOriginalValue(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, p2, m, _, _ := setupMatch(t, st, sessions, coord)

	_, err := coord.ReportResult(p1.ID, m.ID, store.ReportWin)
	require.NoError(t, err)

	_, err = coord.ReportResult(p1.ID, m.ID, store.ReportLose)
	require.ErrorIs(t, err, ErrDuplicateReport)

	reply, err := coord.ReportResult(p2.ID, m.ID, store.ReportLose)
	require.NoError(t, err)
	require.Equal(t, string(CategoryConsistent), reply["category"])

	p1After, err := st.FetchUser(p1.ID)
	require.NoError(t, err)
	p2After, err := st.FetchUser(p2.ID)
	require.NoError(t, err)
	require.Equal(t, 1516, p1After.Rate)
	require.Equal(t, 1484, p2After.Rate)
}

func TestClearMatchInfoClearsOpponentAndCurrentMatch(t *testing.T) {
	coord, st, sessions := newTestCoordinator(t)
	p1, _, _, _, _ := setupMatch(t, st, sessions, coord)

	require.NoError(t, coord.ClearMatchInfo(p1.ID, session.ConnID(1)))

	s1, _ := sessions.Get(1)
	require.Nil(t, s1.OpponentConnID)

	p1After, err := st.FetchUser(p1.ID)
	require.NoError(t, err)
	require.Nil(t, p1After.CurrentMatchID)
}
