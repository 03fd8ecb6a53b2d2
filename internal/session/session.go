// Package session is the Session Table (spec §4.B): the in-memory map from
// connection to bound user, enforcing one live session per user.
package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
)

// ConnID identifies a live connection for the lifetime of the process. It
// never leaves the process and carries no meaning across restarts.
type ConnID uint64

// Sender is the narrow interface the session table needs from a live
// connection: enough to push a frame or force a close, nothing about
// transport framing. The hub package's connection type implements this.
type Sender interface {
	Send(m frame.M)
	Close()
}

// Session is a connection's mutable hub-visible state.
type Session struct {
	ConnID ConnID
	sender Sender

	UserID          *uuid.UUID
	OpponentConnID  *ConnID
	MatchID         *uuid.UUID
	BroadcastOffer  frame.M // payload stored by SetBroadcastOffer, nil otherwise
	BroadcastRoomID string  // non-empty only while this connection owns a spectate room
}

// Table is the Session Table: two maps kept in lockstep behind one mutex.
type Table struct {
	mu sync.Mutex

	byConn map[ConnID]*Session
	byUser map[uuid.UUID]ConnID

	log *zap.Logger
}

// New constructs an empty Session Table.
func New(log *zap.Logger) *Table {
	return &Table{
		byConn: make(map[ConnID]*Session),
		byUser: make(map[uuid.UUID]ConnID),
		log:    log,
	}
}

// Register creates an Unbound session for a freshly accepted connection.
func (t *Table) Register(connID ConnID, sender Sender) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Session{ConnID: connID, sender: sender}
	t.byConn[connID] = s
	return s
}

// Bind attaches userID to connID, taking over any other connection
// currently bound to that user. It returns the connID of the connection
// that was evicted (so the caller can notify and close it); hadEvicted is
// false if there was none.
func (t *Table) Bind(connID ConnID, userID uuid.UUID) (evicted ConnID, hadEvicted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.byUser[userID]; ok && prev != connID {
		evicted, hadEvicted = prev, true
		if prevSession, ok := t.byConn[prev]; ok {
			prevSession.UserID = nil
		}
	}

	if s, ok := t.byConn[connID]; ok {
		s.UserID = &userID
	}
	t.byUser[userID] = connID
	return evicted, hadEvicted
}

// Unbind clears the user binding on connID (logout) without removing the
// connection record itself.
func (t *Table) Unbind(connID ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unbindLocked(connID)
}

func (t *Table) unbindLocked(connID ConnID) {
	s, ok := t.byConn[connID]
	if !ok || s.UserID == nil {
		return
	}
	userID := *s.UserID
	if t.byUser[userID] == connID {
		delete(t.byUser, userID)
	}
	s.UserID = nil
}

// Remove deletes a closed connection's records entirely. Per spec, the
// userId->connId mapping is only cleared if it still points at this
// connection — a stale close (e.g. from a connection already superseded by
// takeover) must not evict a newer, live session.
func (t *Table) Remove(connID ConnID) (userID *uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byConn[connID]
	if !ok {
		return nil
	}
	if s.UserID != nil {
		uid := *s.UserID
		if t.byUser[uid] == connID {
			delete(t.byUser, uid)
		}
		userID = &uid
	}
	delete(t.byConn, connID)
	return userID
}

// Get returns the session for connID.
func (t *Table) Get(connID ConnID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	return s, ok
}

// GetByUser resolves the live session currently bound to userID, if any.
func (t *Table) GetByUser(userID uuid.UUID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	connID, ok := t.byUser[userID]
	if !ok {
		return nil, false
	}
	s, ok := t.byConn[connID]
	return s, ok
}

// IsLive reports whether userID currently has a bound, live connection.
func (t *Table) IsLive(userID uuid.UUID) bool {
	_, ok := t.GetByUser(userID)
	return ok
}

// SetOpponent cross-links connID's opponent pointer to opponentConnID and
// records the match id, used by the Match Coordinator on pairing.
func (t *Table) SetOpponent(connID, opponentConnID ConnID, matchID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byConn[connID]; ok {
		s.OpponentConnID = &opponentConnID
		s.MatchID = &matchID
	}
}

// ClearOpponent drops connID's opponent pointer and match id, used on
// resolution and on clear_match_info.
func (t *Table) ClearOpponent(connID ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byConn[connID]; ok {
		s.OpponentConnID = nil
		s.MatchID = nil
	}
}

// SetBroadcastOffer stores a signaling payload on connID's session. The
// latecomer bootstrap does not read it: internal/spectate caches the
// broadcaster's last payload on its Room (CachedOffer) and Join sends that.
func (t *Table) SetBroadcastOffer(connID ConnID, offer frame.M) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byConn[connID]; ok {
		s.BroadcastOffer = offer
	}
}

// SetBroadcastRoom records or clears which room, if any, connID owns.
func (t *Table) SetBroadcastRoom(connID ConnID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byConn[connID]; ok {
		s.BroadcastRoomID = roomID
		if roomID == "" {
			s.BroadcastOffer = nil
		}
	}
}

// Send pushes a frame to connID's connection if it is still registered.
// Reports whether a live connection received it.
func (t *Table) Send(connID ConnID, m frame.M) bool {
	t.mu.Lock()
	s, ok := t.byConn[connID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.sender.Send(m)
	return true
}

// Close forces the connection identified by connID closed, if still
// registered. Used for session-takeover eviction.
func (t *Table) Close(connID ConnID) {
	t.mu.Lock()
	s, ok := t.byConn[connID]
	t.mu.Unlock()
	if ok {
		s.sender.Close()
	}
}

// SnapshotConnIDs returns every currently registered connection id, used by
// the Broadcast-List Notifier to fan a frame out to every open connection.
func (t *Table) SnapshotConnIDs() []ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnID, 0, len(t.byConn))
	for id := range t.byConn {
		out = append(out, id)
	}
	return out
}
