// Package signal is the Signaling Relay (spec §4.E): opaque-payload
// forwarding between paired peers, and the primitive spectate rooms use for
// their own directed fan-out.
package signal

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
)

// ErrNoOpponent is returned when a webrtc_signal frame arrives on a
// connection with no live opponent pointer.
var ErrNoOpponent = errors.New("signal: no opponent")

// Relay is the Signaling Relay. It never inspects payload contents: bodies
// are forwarded verbatim to the resolved recipient.
type Relay struct {
	sessions *session.Table
	log      *zap.Logger
}

// New constructs a Relay over the given Session Table.
func New(sessions *session.Table, log *zap.Logger) *Relay {
	return &Relay{sessions: sessions, log: log}
}

// ToOpponent forwards body to the opponent of senderConnID, prepending the
// sender's user id. Fails with ErrNoOpponent if the session has none.
func (r *Relay) ToOpponent(senderConnID session.ConnID, senderUserID uuid.UUID, body interface{}) error {
	s, ok := r.sessions.Get(senderConnID)
	if !ok || s.OpponentConnID == nil {
		return ErrNoOpponent
	}
	r.Deliver(*s.OpponentConnID, frame.Event("webrtc_signal", frame.M{
		"from":   senderUserID.String(),
		"signal": body,
	}))
	return nil
}

// Deliver is the raw fan-out primitive: send m to connID if it is still
// live. Used directly by the 1v1 path above and by the Spectate Room
// Registry once it has independently decided a delivery is authorized.
func (r *Relay) Deliver(connID session.ConnID, m frame.M) bool {
	delivered := r.sessions.Send(connID, m)
	if !delivered {
		r.log.Debug("signal delivery dropped, connection gone", zap.Uint64("conn_id", uint64(connID)))
	}
	return delivered
}
